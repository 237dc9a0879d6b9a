package domain

import "time"

// NotificationType classifies outbound notification requests.
type NotificationType string

const (
	NotificationTicketCreated     NotificationType = "ticket_created"
	NotificationTicketStatus      NotificationType = "ticket_status"
	NotificationTicketPriority    NotificationType = "ticket_priority"
	NotificationTicketAssigned    NotificationType = "ticket_assigned"
	NotificationApprovalRequested NotificationType = "approval_requested"
	NotificationApprovalDecided   NotificationType = "approval_decided"
	NotificationEscalation        NotificationType = "escalation"
	NotificationComment           NotificationType = "comment"
)

// Notification is a fire-and-forget request to inform a user.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	TicketID  *string          `json:"ticket_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
