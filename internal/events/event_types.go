package events

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketCommentAdded    EventType = "ticket_comment_added"
	EventApprovalRequested     EventType = "approval_requested"
	EventApprovalDecided       EventType = "approval_decided"
)

// TicketRef carries the ticket fields notification consumers need so they
// never read the ticket back.
type TicketRef struct {
	ID          string              `json:"id"`
	ExternalKey string              `json:"external_key"`
	Title       string              `json:"title"`
	Status      domain.TicketStatus `json:"status"`
	CreatedBy   string              `json:"created_by"`
	AssignedTo  *string             `json:"assigned_to,omitempty"`
}

// NewTicketRef snapshots t.
func NewTicketRef(t *domain.Ticket) TicketRef {
	ref := TicketRef{
		ID:          t.ID,
		ExternalKey: t.ExternalKey,
		Title:       t.Title,
		Status:      t.Status,
		CreatedBy:   t.CreatedBy,
	}
	if t.AssignedTo != nil {
		assignee := *t.AssignedTo
		ref.AssignedTo = &assignee
	}
	return ref
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Ticket    TicketRef    `json:"ticket"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Priority         domain.TicketPriority `json:"priority"`
	RequiresApproval bool                  `json:"requires_approval"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Reason    string              `json:"reason,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldAssignee *string `json:"old_assignee,omitempty"`
	NewAssignee *string `json:"new_assignee,omitempty"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID   string           `json:"comment_id"`
	AuthorType  domain.ActorType `json:"author_type"`
	AuthorID    string           `json:"author_id"`
	BodyPreview string           `json:"body_preview"`
}

// ApprovalRequestedPayload payload.
type ApprovalRequestedPayload struct {
	RequestID  string `json:"request_id"`
	StageName  string `json:"stage_name"`
	StageOrder int    `json:"stage_order"`
	ApproverID string `json:"approver_id"`
}

// ApprovalDecidedPayload payload.
type ApprovalDecidedPayload struct {
	RequestID  string                  `json:"request_id"`
	StageOrder int                     `json:"stage_order"`
	Decision   domain.ApprovalDecision `json:"decision"`
	Final      bool                    `json:"final"`
}
