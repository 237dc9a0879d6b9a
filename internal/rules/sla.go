package rules

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// FindPolicy returns the first enabled policy for priority.
func FindPolicy(policies []domain.SLAPolicy, priority domain.TicketPriority) (domain.SLAPolicy, bool) {
	for _, policy := range policies {
		if policy.Enabled && policy.Priority == priority {
			return policy, true
		}
	}
	return domain.SLAPolicy{}, false
}

// Deadline computes at + resolution time for the matching enabled policy, or
// nil when no such policy exists.
func Deadline(policies []domain.SLAPolicy, priority domain.TicketPriority, at time.Time) *time.Time {
	policy, ok := FindPolicy(policies, priority)
	if !ok {
		return nil
	}
	deadline := at.Add(policy.ResolutionTime())
	return &deadline
}
