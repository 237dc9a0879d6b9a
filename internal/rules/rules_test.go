package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestMatchSetEmptyIsWildcard(t *testing.T) {
	assert.True(t, MatchSet[domain.TicketPriority](nil, domain.TicketPriorityLow))
	assert.True(t, MatchSet([]domain.TicketPriority{domain.TicketPriorityLow, domain.TicketPriorityHigh}, domain.TicketPriorityHigh))
	assert.False(t, MatchSet([]domain.TicketPriority{domain.TicketPriorityLow}, domain.TicketPriorityHigh))
}

func TestMatchFoldIgnoresCaseAndSpace(t *testing.T) {
	assert.True(t, MatchFold([]string{"Network"}, " network "))
	assert.False(t, MatchFold([]string{"Network"}, "Billing"))
	assert.True(t, MatchFold(nil, "anything"))
}

func TestOrderAssignmentRulesIsStableAndDropsInactive(t *testing.T) {
	rules := []domain.AssignmentRule{
		{ID: "c", Priority: 2, IsActive: true},
		{ID: "a", Priority: 1, IsActive: true},
		{ID: "x", Priority: 0, IsActive: false},
		{ID: "b", Priority: 1, IsActive: true},
	}
	ordered := OrderAssignmentRules(rules)
	ids := make([]string, 0, len(ordered))
	for _, r := range ordered {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMatchingAssignmentRulesCatchAll(t *testing.T) {
	rules := []domain.AssignmentRule{
		{ID: "catch-all", Priority: 2, IsActive: true, AssignTo: domain.AssignTarget{Kind: domain.AssignTargetAgent, AgentID: "B"}},
		{ID: "network", Priority: 1, IsActive: true,
			Conditions: domain.AssignmentConditions{Categories: []string{"Network"}},
			AssignTo:   domain.AssignTarget{Kind: domain.AssignTargetAgent, AgentID: "A"}},
	}

	network := MatchingAssignmentRules(rules, nil, "Network", domain.TicketPriorityLow, domain.TicketTypeIncident)
	require.Len(t, network, 2)
	assert.Equal(t, "network", network[0].ID)

	billing := MatchingAssignmentRules(rules, nil, "Billing", domain.TicketPriorityLow, domain.TicketTypeIncident)
	require.Len(t, billing, 1)
	assert.Equal(t, "catch-all", billing[0].ID)
}

func TestMatchAssignmentRequiresAllConjuncts(t *testing.T) {
	rule := domain.AssignmentRule{Conditions: domain.AssignmentConditions{
		Categories: []string{"Hardware"},
		Priorities: []domain.TicketPriority{domain.TicketPriorityHigh, domain.TicketPriorityCritical},
		Types:      []domain.TicketType{domain.TicketTypeIncident},
	}}
	assert.True(t, MatchAssignment(rule, nil, "Hardware", domain.TicketPriorityCritical, domain.TicketTypeIncident))
	assert.False(t, MatchAssignment(rule, nil, "Hardware", domain.TicketPriorityLow, domain.TicketTypeIncident))
	assert.False(t, MatchAssignment(rule, nil, "Hardware", domain.TicketPriorityHigh, domain.TicketTypeInquiry))
	assert.False(t, MatchAssignment(rule, nil, "Software", domain.TicketPriorityHigh, domain.TicketTypeIncident))
}

func TestCategoryMatchModes(t *testing.T) {
	rule := domain.AssignmentRule{ID: "net", Priority: 1, IsActive: true,
		Conditions: domain.AssignmentConditions{Categories: []string{"Network"}}}

	assert.True(t, MatchAssignment(rule, CategoryMatcherFor(false), " network ", domain.TicketPriorityLow, domain.TicketTypeIncident))
	assert.True(t, MatchAssignment(rule, CategoryMatcherFor(true), "Network", domain.TicketPriorityLow, domain.TicketTypeIncident))
	assert.False(t, MatchAssignment(rule, CategoryMatcherFor(true), "network", domain.TicketPriorityLow, domain.TicketTypeIncident))
	assert.False(t, MatchAssignment(rule, CategoryMatcherFor(true), "Network ", domain.TicketPriorityLow, domain.TicketTypeIncident))
	assert.Empty(t, MatchingAssignmentRules([]domain.AssignmentRule{rule}, CategoryMatcherFor(true), "NETWORK", domain.TicketPriorityLow, domain.TicketTypeIncident))
}

func TestMatchingAssignmentRulesIsDeterministic(t *testing.T) {
	rules := []domain.AssignmentRule{
		{ID: "1", Priority: 5, IsActive: true},
		{ID: "2", Priority: 5, IsActive: true},
		{ID: "3", Priority: 1, IsActive: true},
	}
	first := MatchingAssignmentRules(rules, nil, "x", domain.TicketPriorityLow, domain.TicketTypeInquiry)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, MatchingAssignmentRules(rules, nil, "x", domain.TicketPriorityLow, domain.TicketTypeInquiry))
	}
}

func TestDeadline(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	policies := []domain.SLAPolicy{
		{ID: "p1", Priority: domain.TicketPriorityCritical, ResolutionTimeMinutes: 240, Enabled: true},
		{ID: "p2", Priority: domain.TicketPriorityLow, ResolutionTimeMinutes: 2880, Enabled: false},
	}

	deadline := Deadline(policies, domain.TicketPriorityCritical, at)
	require.NotNil(t, deadline)
	assert.Equal(t, 240*time.Minute, deadline.Sub(at))

	assert.Nil(t, Deadline(policies, domain.TicketPriorityLow, at), "disabled policy must not apply")
	assert.Nil(t, Deadline(policies, domain.TicketPriorityMedium, at))
}

func TestMatchEscalationOverdueBoundary(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deadline := created.Add(240 * time.Minute)
	ticket := &domain.Ticket{Priority: domain.TicketPriorityCritical, Status: domain.TicketStatusInProgress, SLADeadline: &deadline}
	rule := domain.EscalationRule{IsActive: true, Conditions: domain.EscalationConditions{
		Priorities:       []domain.TicketPriority{domain.TicketPriorityCritical},
		OverdueByMinutes: intPtr(30),
	}}

	assert.False(t, MatchEscalation(rule, ticket, created.Add(260*time.Minute)))
	assert.False(t, MatchEscalation(rule, ticket, created.Add(269*time.Minute)))
	assert.True(t, MatchEscalation(rule, ticket, created.Add(270*time.Minute)))
	assert.True(t, MatchEscalation(rule, ticket, created.Add(271*time.Minute)))
}

func TestMatchEscalationWithoutDeadlineNeverOverdue(t *testing.T) {
	ticket := &domain.Ticket{Priority: domain.TicketPriorityLow, Status: domain.TicketStatusNew}
	rule := domain.EscalationRule{Conditions: domain.EscalationConditions{OverdueByMinutes: intPtr(0)}}
	assert.False(t, MatchEscalation(rule, ticket, time.Now().Add(1000*time.Hour)))
}

func TestMatchEscalationStatusSet(t *testing.T) {
	ticket := &domain.Ticket{Priority: domain.TicketPriorityLow, Status: domain.TicketStatusOnHold}
	rule := domain.EscalationRule{Conditions: domain.EscalationConditions{
		Statuses: []domain.TicketStatus{domain.TicketStatusNew, domain.TicketStatusInProgress},
	}}
	assert.False(t, MatchEscalation(rule, ticket, time.Now()))
	ticket.Status = domain.TicketStatusNew
	assert.True(t, MatchEscalation(rule, ticket, time.Now()))
}

func TestBreachKeyFollowsDeadline(t *testing.T) {
	d1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	d2 := d1.Add(time.Hour)
	rule := domain.EscalationRule{Conditions: domain.EscalationConditions{OverdueByMinutes: intPtr(5)}}
	t1 := &domain.Ticket{SLADeadline: &d1}
	t2 := &domain.Ticket{SLADeadline: &d2}
	assert.NotEqual(t, BreachKey(rule, t1), BreachKey(rule, t2))

	stateRule := domain.EscalationRule{}
	a := &domain.Ticket{Status: domain.TicketStatusNew, Priority: domain.TicketPriorityHigh, StateChangedAt: d1}
	assert.Equal(t, "state:new|high@2026-01-01T10:00:00Z", BreachKey(stateRule, a))

	reentered := &domain.Ticket{Status: domain.TicketStatusNew, Priority: domain.TicketPriorityHigh, StateChangedAt: d2}
	assert.NotEqual(t, BreachKey(stateRule, a), BreachKey(stateRule, reentered))
}

func TestLeastLoaded(t *testing.T) {
	pick, ok := LeastLoaded([]string{"X", "Y", "Z"}, map[string]int{"X": 2, "Y": 0, "Z": 1})
	require.True(t, ok)
	assert.Equal(t, "Y", pick)

	pick, _ = LeastLoaded([]string{"X", "Y", "Z"}, map[string]int{"X": 1, "Y": 1, "Z": 1})
	assert.Equal(t, "X", pick, "ties go to the first member")

	pick, _ = LeastLoaded([]string{"X", "Y"}, map[string]int{"X": 3})
	assert.Equal(t, "Y", pick, "missing counts are zero")

	_, ok = LeastLoaded(nil, nil)
	assert.False(t, ok)
}
