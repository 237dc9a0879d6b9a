package domain

import "time"

// AssignTargetKind selects how a rule resolves to a user.
type AssignTargetKind string

const (
	AssignTargetNone       AssignTargetKind = "none"
	AssignTargetAgent      AssignTargetKind = "agent"
	AssignTargetTeam       AssignTargetKind = "team"
	AssignTargetRoundRobin AssignTargetKind = "round_robin"
)

// AssignTarget is the tagged variant a rule assigns to.
type AssignTarget struct {
	Kind    AssignTargetKind `json:"kind"`
	AgentID string           `json:"agent_id,omitempty"`
	TeamID  string           `json:"team_id,omitempty"`
}

// IsNone reports whether the target is absent.
func (t AssignTarget) IsNone() bool {
	return t.Kind == "" || t.Kind == AssignTargetNone
}

// AssignmentConditions are OR-sets; an empty set matches any value.
type AssignmentConditions struct {
	Categories []string         `json:"categories,omitempty"`
	Priorities []TicketPriority `json:"priorities,omitempty"`
	Types      []TicketType     `json:"types,omitempty"`
}

// AssignmentRule picks an owner for a newly created ticket.
type AssignmentRule struct {
	ID         string
	Name       string
	Priority   int
	IsActive   bool
	Conditions AssignmentConditions
	AssignTo   AssignTarget
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
