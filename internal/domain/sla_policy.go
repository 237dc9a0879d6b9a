package domain

import "time"

// SLAPolicy defines response and resolution targets for a priority.
type SLAPolicy struct {
	ID                    string
	Name                  string
	Priority              TicketPriority
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	Enabled               bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ResolutionTime returns the resolution target as a duration.
func (p SLAPolicy) ResolutionTime() time.Duration {
	return time.Duration(p.ResolutionTimeMinutes) * time.Minute
}
