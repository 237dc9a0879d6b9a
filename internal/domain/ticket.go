package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew          TicketStatus = "new"
	TicketStatusNeedApproval TicketStatus = "need_approval"
	TicketStatusInProgress   TicketStatus = "in_progress"
	TicketStatusOnHold       TicketStatus = "on_hold"
	TicketStatusResolved     TicketStatus = "resolved"
	TicketStatusClosed       TicketStatus = "closed"
	TicketStatusRejected     TicketStatus = "rejected"
)

// Valid reports enum membership.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusNeedApproval, TicketStatusInProgress, TicketStatusOnHold,
		TicketStatusResolved, TicketStatusClosed, TicketStatusRejected:
		return true
	}
	return false
}

// IsResolved reports whether the status carries a resolution timestamp.
func (s TicketStatus) IsResolved() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// IsTerminal reports whether no further transitions are possible.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// CountsAsOpenLoad reports whether a ticket in this status counts toward an
// assignee's open workload.
func (s TicketStatus) CountsAsOpenLoad() bool {
	return !s.IsResolved()
}

// Escalatable reports whether the escalation scanner considers the ticket.
func (s TicketStatus) Escalatable() bool {
	return !s.IsResolved() && s != TicketStatusRejected
}

// Label is the human form used in notification text.
func (s TicketStatus) Label() string {
	switch s {
	case TicketStatusNew:
		return "New"
	case TicketStatusNeedApproval:
		return "Pending Approval"
	case TicketStatusInProgress:
		return "In Progress"
	case TicketStatusOnHold:
		return "On Hold"
	case TicketStatusResolved:
		return "Resolved"
	case TicketStatusClosed:
		return "Closed"
	case TicketStatusRejected:
		return "Rejected"
	}
	return string(s)
}

// TicketPriority drives SLA selection.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// TicketUrgency is reported by the requester and never drives SLA.
type TicketUrgency string

const (
	TicketUrgencyLow    TicketUrgency = "low"
	TicketUrgencyMedium TicketUrgency = "medium"
	TicketUrgencyHigh   TicketUrgency = "high"
)

func (u TicketUrgency) Valid() bool {
	switch u {
	case TicketUrgencyLow, TicketUrgencyMedium, TicketUrgencyHigh:
		return true
	}
	return false
}

// TicketType classifies the request.
type TicketType string

const (
	TicketTypeIncident       TicketType = "incident"
	TicketTypeServiceRequest TicketType = "service_request"
	TicketTypeInquiry        TicketType = "inquiry"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeIncident, TicketTypeServiceRequest, TicketTypeInquiry:
		return true
	}
	return false
}

// ApprovalStatus tracks the approval gate of a ticket.
type ApprovalStatus string

const (
	ApprovalStatusNotRequired ApprovalStatus = "not_required"
	ApprovalStatusPending     ApprovalStatus = "pending"
	ApprovalStatusApproved    ApprovalStatus = "approved"
	ApprovalStatusRejected    ApprovalStatus = "rejected"
)

// Ticket is the aggregate for service-desk requests.
type Ticket struct {
	ID               string
	ExternalKey      string
	Title            string
	Description      string
	Type             TicketType
	Status           TicketStatus
	Priority         TicketPriority
	Urgency          TicketUrgency
	Category         string
	CreatedBy        string
	AssignedTo       *string
	FormID           *string
	SLADeadline      *time.Time
	ResolvedAt       *time.Time
	RequiresApproval bool
	ApprovalStatus   ApprovalStatus
	FormData         map[string]any
	// StateChangedAt is the last time status or priority changed.
	StateChangedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a copy that shares no pointers with t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssignedTo = cloneString(t.AssignedTo)
	cp.FormID = cloneString(t.FormID)
	cp.SLADeadline = cloneTime(t.SLADeadline)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	if t.FormData != nil {
		cp.FormData = make(map[string]any, len(t.FormData))
		for k, v := range t.FormData {
			cp.FormData[k] = v
		}
	}
	return &cp
}

// AssigneeID returns the assignee or the empty string.
func (t *Ticket) AssigneeID() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
