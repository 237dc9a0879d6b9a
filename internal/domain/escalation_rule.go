package domain

import "time"

// EscalationConditions select open tickets for a rule.
type EscalationConditions struct {
	Priorities       []TicketPriority `json:"priorities,omitempty"`
	Statuses         []TicketStatus   `json:"statuses,omitempty"`
	OverdueByMinutes *int             `json:"overdue_by,omitempty"`
}

// EscalationActions are applied in a fixed order when a rule fires.
type EscalationActions struct {
	NotifyUsers    []string        `json:"notify_users,omitempty"`
	NotifyTeams    []string        `json:"notify_teams,omitempty"`
	ReassignTo     AssignTarget    `json:"reassign_to"`
	ChangePriority *TicketPriority `json:"change_priority,omitempty"`
	AddComment     *string         `json:"add_comment,omitempty"`
}

// EscalationRule is a condition/action pair evaluated by the scanner.
type EscalationRule struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	Priority    int
	Conditions  EscalationConditions
	Actions     EscalationActions
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EscalationFiring records that a rule fired for a ticket breach.
type EscalationFiring struct {
	RuleID    string
	TicketID  string
	BreachKey string
	FiredAt   time.Time
}
