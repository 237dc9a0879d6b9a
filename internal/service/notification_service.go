package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/notify"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

// NotificationService turns domain events into per-user notifications.
// Delivery is fire-and-forget: failures are logged and never surface to the
// operation that produced the event.
type NotificationService struct {
	dispatcher events.Dispatcher
	directory  repository.DirectoryRepository
	sender     notify.Sender
	logger     *zap.Logger
	metrics    *observability.Metrics
	nowFn      func() time.Time
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher    events.Dispatcher
	DirectoryRepo repository.DirectoryRepository
	Sender        notify.Sender
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sender := deps.Sender
	if sender == nil {
		sender = notify.NewLogSender(deps.Logger)
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		directory:  deps.DirectoryRepo,
		sender:     sender,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		nowFn:      now,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketPriorityChanged, n.handleTicketPriorityChanged)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketCommentAdded, n.handleTicketCommentAdded)
	n.dispatcher.Subscribe(events.EventApprovalRequested, n.handleApprovalRequested)
	n.dispatcher.Subscribe(events.EventApprovalDecided, n.handleApprovalDecided)
}

// Notify delivers one notification.
func (n *NotificationService) Notify(ctx context.Context, note domain.Notification) {
	if note.UserID == "" {
		return
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.nowFn()
	}
	err := n.sender.Send(ctx, note)
	n.metrics.RecordNotification(string(note.Type), err == nil)
	if err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("user_id", note.UserID),
			zap.String("type", string(note.Type)),
			zap.Error(err))
	}
}

// NotifyUsers sends note to each distinct user once.
func (n *NotificationService) NotifyUsers(ctx context.Context, userIDs []string, note domain.Notification) {
	for _, userID := range dedupe(userIDs) {
		note.UserID = userID
		note.ID = ""
		n.Notify(ctx, note)
	}
}

// TeamRecipients returns the leader followed by the members, without
// duplicates. A missing team has no recipients.
func (n *NotificationService) TeamRecipients(ctx context.Context, teamID string) ([]string, error) {
	team, err := n.directory.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			n.logger.Warn("notify team not found", zap.String("team_id", teamID))
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if team.LeaderID != nil {
		ids = append(ids, *team.LeaderID)
	}
	ids = append(ids, team.MemberIDs...)
	return dedupe(ids), nil
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	t := event.Ticket
	n.NotifyUsers(ctx, ticketParties(t), domain.Notification{
		Type:     domain.NotificationTicketCreated,
		Title:    "Ticket created",
		Message:  fmt.Sprintf("Ticket %s \"%s\" has been created", t.ExternalKey, t.Title),
		TicketID: ticketIDRef(t),
	})
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	n.NotifyUsers(ctx, ticketParties(t), domain.Notification{
		Type:     domain.NotificationTicketStatus,
		Title:    "Ticket status updated",
		Message:  statusMessage(t.ExternalKey, payload.NewStatus),
		TicketID: ticketIDRef(t),
	})
	return nil
}

func (n *NotificationService) handleTicketPriorityChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketPriorityChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	n.NotifyUsers(ctx, ticketParties(t), domain.Notification{
		Type:     domain.NotificationTicketPriority,
		Title:    "Ticket priority changed",
		Message:  fmt.Sprintf("Ticket %s priority changed from %s to %s", t.ExternalKey, payload.OldPriority, payload.NewPriority),
		TicketID: ticketIDRef(t),
	})
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	if payload.NewAssignee != nil {
		n.Notify(ctx, domain.Notification{
			UserID:   *payload.NewAssignee,
			Type:     domain.NotificationTicketAssigned,
			Title:    "Ticket assigned to you",
			Message:  fmt.Sprintf("Ticket %s \"%s\" has been assigned to you", t.ExternalKey, t.Title),
			TicketID: ticketIDRef(t),
		})
	}
	if payload.NewAssignee == nil || *payload.NewAssignee != t.CreatedBy {
		n.Notify(ctx, domain.Notification{
			UserID:   t.CreatedBy,
			Type:     domain.NotificationTicketAssigned,
			Title:    "Ticket assignment changed",
			Message:  fmt.Sprintf("Ticket %s has a new assignee", t.ExternalKey),
			TicketID: ticketIDRef(t),
		})
	}
	return nil
}

func (n *NotificationService) handleTicketCommentAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCommentAddedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	var recipients []string
	for _, userID := range ticketParties(t) {
		if payload.AuthorType == domain.ActorTypeUser && userID == payload.AuthorID {
			continue
		}
		recipients = append(recipients, userID)
	}
	n.NotifyUsers(ctx, recipients, domain.Notification{
		Type:     domain.NotificationComment,
		Title:    "New comment",
		Message:  fmt.Sprintf("New comment on ticket %s: %s", t.ExternalKey, payload.BodyPreview),
		TicketID: ticketIDRef(t),
	})
	return nil
}

func (n *NotificationService) handleApprovalRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ApprovalRequestedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	n.Notify(ctx, domain.Notification{
		UserID:   payload.ApproverID,
		Type:     domain.NotificationApprovalRequested,
		Title:    "Approval required",
		Message:  fmt.Sprintf("Ticket %s \"%s\" awaits your approval (%s)", t.ExternalKey, t.Title, payload.StageName),
		TicketID: ticketIDRef(t),
	})
	return nil
}

func (n *NotificationService) handleApprovalDecided(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ApprovalDecidedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	t := event.Ticket
	message := fmt.Sprintf("Approval stage %d of ticket %s was %s", payload.StageOrder, t.ExternalKey, payload.Decision)
	if payload.Final && payload.Decision == domain.DecisionApprove {
		message = fmt.Sprintf("Ticket %s has been fully approved", t.ExternalKey)
	}
	n.Notify(ctx, domain.Notification{
		UserID:   t.CreatedBy,
		Type:     domain.NotificationApprovalDecided,
		Title:    "Approval decision",
		Message:  message,
		TicketID: ticketIDRef(t),
	})
	return nil
}

func statusMessage(key string, status domain.TicketStatus) string {
	switch status {
	case domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusRejected:
		return fmt.Sprintf("Ticket %s has been %s", key, status.Label())
	}
	return fmt.Sprintf("Ticket %s is now %s", key, status.Label())
}

// ticketParties is the requester and the assignee, if any.
func ticketParties(t events.TicketRef) []string {
	ids := []string{t.CreatedBy}
	if t.AssignedTo != nil {
		ids = append(ids, *t.AssignedTo)
	}
	return dedupe(ids)
}

func ticketIDRef(t events.TicketRef) *string {
	id := t.ID
	return &id
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NotifyTeam sends note to the team's leader and members.
func (n *NotificationService) NotifyTeam(ctx context.Context, teamID string, note domain.Notification) error {
	ids, err := n.TeamRecipients(ctx, teamID)
	if err != nil {
		return err
	}
	n.NotifyUsers(ctx, ids, note)
	return nil
}
