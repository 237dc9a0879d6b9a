package dto

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Type        domain.TicketType     `json:"type"`
	Priority    domain.TicketPriority `json:"priority"`
	Urgency     domain.TicketUrgency  `json:"urgency"`
	Category    string                `json:"category"`
	AssignedTo  *string               `json:"assigned_to"`
	FormID      *string               `json:"form_id"`
	FormData    map[string]any        `json:"form_data"`
}

// UpdateTicketRequest is a partial update; absent fields are untouched. An
// empty assigned_to unassigns.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Category    *string                `json:"category"`
	Urgency     *domain.TicketUrgency  `json:"urgency"`
	Status      *domain.TicketStatus   `json:"status"`
	Priority    *domain.TicketPriority `json:"priority"`
	AssignedTo  *string                `json:"assigned_to"`
	Reason      string                 `json:"reason"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	UserID string `json:"user_id"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Body string `json:"body"`
}

// ApprovalResponseRequest payload.
type ApprovalResponseRequest struct {
	Decision domain.ApprovalDecision `json:"decision"`
	Comments string                  `json:"comments"`
}

// TicketResponse is the full ticket representation.
type TicketResponse struct {
	ID               string                `json:"id"`
	ExternalKey      string                `json:"external_key"`
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Type             domain.TicketType     `json:"type"`
	Status           domain.TicketStatus   `json:"status"`
	Priority         domain.TicketPriority `json:"priority"`
	Urgency          domain.TicketUrgency  `json:"urgency"`
	Category         string                `json:"category"`
	CreatedBy        string                `json:"created_by"`
	AssignedTo       *string               `json:"assigned_to"`
	FormID           *string               `json:"form_id,omitempty"`
	SLADeadline      *time.Time            `json:"sla_deadline"`
	ResolvedAt       *time.Time            `json:"resolved_at"`
	RequiresApproval bool                  `json:"requires_approval"`
	ApprovalStatus   domain.ApprovalStatus `json:"approval_status"`
	FormData         map[string]any        `json:"form_data,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// HistoryResponse is one audit entry.
type HistoryResponse struct {
	ID            string                  `json:"id"`
	ChangedByType domain.ActorType        `json:"changed_by_type"`
	ChangedByID   string                  `json:"changed_by_id"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	OldValue      map[string]any          `json:"old_value"`
	NewValue      map[string]any          `json:"new_value"`
	Reason        string                  `json:"reason,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// CommentResponse is one thread comment.
type CommentResponse struct {
	ID         string           `json:"id"`
	AuthorType domain.ActorType `json:"author_type"`
	AuthorID   string           `json:"author_id"`
	Body       string           `json:"body"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ApprovalRequestResponse is one approval stage request.
type ApprovalRequestResponse struct {
	ID          string                       `json:"id"`
	TicketID    string                       `json:"ticket_id"`
	StageID     string                       `json:"stage_id"`
	StageOrder  int                          `json:"stage_order"`
	Status      domain.ApprovalRequestStatus `json:"status"`
	ApproverID  *string                      `json:"approver_id"`
	Comments    string                       `json:"comments,omitempty"`
	RequestedAt *time.Time                   `json:"requested_at"`
	RespondedAt *time.Time                   `json:"responded_at"`
}

func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:               t.ID,
		ExternalKey:      t.ExternalKey,
		Title:            t.Title,
		Description:      t.Description,
		Type:             t.Type,
		Status:           t.Status,
		Priority:         t.Priority,
		Urgency:          t.Urgency,
		Category:         t.Category,
		CreatedBy:        t.CreatedBy,
		AssignedTo:       t.AssignedTo,
		FormID:           t.FormID,
		SLADeadline:      t.SLADeadline,
		ResolvedAt:       t.ResolvedAt,
		RequiresApproval: t.RequiresApproval,
		ApprovalStatus:   t.ApprovalStatus,
		FormData:         t.FormData,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func NewHistoryResponse(h domain.TicketHistory) HistoryResponse {
	return HistoryResponse{
		ID:            h.ID,
		ChangedByType: h.ChangedByType,
		ChangedByID:   h.ChangedByID,
		ChangeType:    h.ChangeType,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		Reason:        h.Reason,
		CreatedAt:     h.CreatedAt,
	}
}

func NewCommentResponse(c domain.TicketComment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		AuthorType: c.AuthorType,
		AuthorID:   c.AuthorID,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}

func NewApprovalRequestResponse(r domain.ApprovalRequest) ApprovalRequestResponse {
	return ApprovalRequestResponse{
		ID:          r.ID,
		TicketID:    r.TicketID,
		StageID:     r.StageID,
		StageOrder:  r.StageOrder,
		Status:      r.Status,
		ApproverID:  r.ApproverID,
		Comments:    r.Comments,
		RequestedAt: r.RequestedAt,
		RespondedAt: r.RespondedAt,
	}
}
