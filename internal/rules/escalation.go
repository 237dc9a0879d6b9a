package rules

import (
	"sort"
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// OrderEscalationRules drops inactive rules and sorts the rest ascending by
// priority, keeping input order on ties.
func OrderEscalationRules(rules []domain.EscalationRule) []domain.EscalationRule {
	active := make([]domain.EscalationRule, 0, len(rules))
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

// MatchEscalation reports whether rule applies to ticket at now. A ticket
// without an SLA deadline never satisfies an overdue condition.
func MatchEscalation(rule domain.EscalationRule, ticket *domain.Ticket, now time.Time) bool {
	if ticket == nil {
		return false
	}
	c := rule.Conditions
	if !MatchSet(c.Priorities, ticket.Priority) || !MatchSet(c.Statuses, ticket.Status) {
		return false
	}
	if c.OverdueByMinutes == nil {
		return true
	}
	if ticket.SLADeadline == nil {
		return false
	}
	overdueBy := time.Duration(*c.OverdueByMinutes) * time.Minute
	return now.Sub(*ticket.SLADeadline) >= overdueBy
}

// BreachKey identifies the condition episode a firing belongs to. Overdue
// rules key on the deadline, so a recomputed deadline opens a new episode.
// Other rules key on the state and when it was entered, so leaving and
// re-entering a matching state is a new episode.
func BreachKey(rule domain.EscalationRule, ticket *domain.Ticket) string {
	if rule.Conditions.OverdueByMinutes != nil && ticket.SLADeadline != nil {
		return "sla:" + ticket.SLADeadline.UTC().Format(time.RFC3339)
	}
	return "state:" + string(ticket.Status) + "|" + string(ticket.Priority) +
		"@" + ticket.StateChangedAt.UTC().Format(time.RFC3339Nano)
}
