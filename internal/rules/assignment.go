package rules

import (
	"sort"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// OrderAssignmentRules drops inactive rules and sorts the rest ascending by
// priority. Ties keep their input order.
func OrderAssignmentRules(rules []domain.AssignmentRule) []domain.AssignmentRule {
	active := make([]domain.AssignmentRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}

// CategoryMatcher reports whether category satisfies a rule's category set.
type CategoryMatcher func(set []string, category string) bool

// CategoryMatcherFor returns exact membership when exact is set and the
// trimmed, case-insensitive comparison otherwise.
func CategoryMatcherFor(exact bool) CategoryMatcher {
	if exact {
		return MatchSet[string]
	}
	return MatchFold
}

// MatchAssignment evaluates the three conjuncts of a rule's conditions. A nil
// matchCategory falls back to MatchFold.
func MatchAssignment(rule domain.AssignmentRule, matchCategory CategoryMatcher, category string, priority domain.TicketPriority, ticketType domain.TicketType) bool {
	if matchCategory == nil {
		matchCategory = MatchFold
	}
	c := rule.Conditions
	return matchCategory(c.Categories, category) &&
		MatchSet(c.Priorities, priority) &&
		MatchSet(c.Types, ticketType)
}

// MatchingAssignmentRules returns the structurally matching active rules in
// evaluation order. The caller tries them in turn until one resolves.
func MatchingAssignmentRules(rules []domain.AssignmentRule, matchCategory CategoryMatcher, category string, priority domain.TicketPriority, ticketType domain.TicketType) []domain.AssignmentRule {
	ordered := OrderAssignmentRules(rules)
	matched := make([]domain.AssignmentRule, 0, len(ordered))
	for _, rule := range ordered {
		if MatchAssignment(rule, matchCategory, category, priority, ticketType) {
			matched = append(matched, rule)
		}
	}
	return matched
}
