package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// TicketService owns the ticket state machine. Every change to status,
// priority or assignee goes through mutate.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	comments   repository.TicketCommentRepository
	approvals  repository.ApprovalRepository
	directory  repository.DirectoryRepository
	sla        *SLAService
	assignment *AssignmentService
	workflow   *ApprovalWorkflow
	dispatcher events.Dispatcher
	locks      *ticketLocks
	strict     bool
	logger     *zap.Logger
	metrics    *observability.Metrics
	nowFn      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo        repository.TicketRepository
	HistoryRepo       repository.TicketHistoryRepository
	CommentRepo       repository.TicketCommentRepository
	ApprovalRepo      repository.ApprovalRepository
	DirectoryRepo     repository.DirectoryRepository
	SLA               *SLAService
	Assignment        *AssignmentService
	Workflow          *ApprovalWorkflow
	Dispatcher        events.Dispatcher
	StrictTransitions bool
	Logger            *zap.Logger
	Metrics           *observability.Metrics
	Now               func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Type        domain.TicketType
	Priority    domain.TicketPriority
	Urgency     domain.TicketUrgency
	Category    string
	AssignedTo  *string
	FormID      *string
	FormData    map[string]any
}

// TicketUpdateInput is a partial update; nil fields are left untouched. An
// empty AssignedTo clears the assignee.
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Category    *string
	Urgency     *domain.TicketUrgency
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	AssignedTo  *string
	Reason      string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		comments:   deps.CommentRepo,
		approvals:  deps.ApprovalRepo,
		directory:  deps.DirectoryRepo,
		sla:        deps.SLA,
		assignment: deps.Assignment,
		workflow:   deps.Workflow,
		dispatcher: deps.Dispatcher,
		locks:      newTicketLocks(),
		strict:     deps.StrictTransitions,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		nowFn:      now,
	}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:        {domain.TicketStatusInProgress, domain.TicketStatusOnHold},
	domain.TicketStatusInProgress: {domain.TicketStatusOnHold, domain.TicketStatusResolved},
	domain.TicketStatusOnHold:     {domain.TicketStatusInProgress},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusClosed:     {},
	domain.TicketStatusRejected:   {},
}

// workflowTransitions are only taken by the approval workflow.
var workflowTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:          {domain.TicketStatusNeedApproval},
	domain.TicketStatusNeedApproval: {domain.TicketStatusInProgress, domain.TicketStatusRejected},
}

// CreateTicket computes the SLA deadline, picks an assignee when none is
// given and opens the approval gate when the form has stages.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if err := normalizeCreateInput(&input); err != nil {
		return nil, err
	}
	now := s.nowFn()
	ticket := &domain.Ticket{
		ID:             uuid.NewString(),
		ExternalKey:    generateTicketKey(),
		Title:          input.Title,
		Description:    input.Description,
		Type:           input.Type,
		Status:         domain.TicketStatusNew,
		Priority:       input.Priority,
		Urgency:        input.Urgency,
		Category:       input.Category,
		CreatedBy:      actor.ID,
		FormID:         input.FormID,
		ApprovalStatus: domain.ApprovalStatusNotRequired,
		FormData:       input.FormData,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	deadline, err := s.sla.ComputeDeadline(ctx, ticket.Priority, now)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.SLADeadline = deadline

	change := newTicketChange(ticket, actor, now)
	change.addHistory(domain.ChangeTypeCreated, nil, map[string]any{
		"status":       ticket.Status,
		"priority":     ticket.Priority,
		"sla_deadline": ticket.SLADeadline,
	}, "")

	if input.AssignedTo != nil {
		if err := s.requireAssignableUser(ctx, *input.AssignedTo); err != nil {
			return nil, err
		}
		change.setAssignee(input.AssignedTo, "assigned at creation")
	} else {
		decision, err := s.assignment.decide(ctx, ticket.Category, ticket.Priority, ticket.Type)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if decision != nil {
			change.withActor(domain.SystemActor(domain.SystemAssignment), func() {
				change.setAssignee(&decision.UserID, "assignment rule "+decision.RuleName)
			})
		}
	}

	if ticket.FormID != nil {
		if err := s.openApprovalGate(ctx, change); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	change.emit(events.EventTicketCreated, events.TicketCreatedPayload{
		Priority:         ticket.Priority,
		RequiresApproval: ticket.RequiresApproval,
	})
	if err := s.tickets.Create(ctx, change.write()); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("key", ticket.ExternalKey),
		zap.String("status", string(ticket.Status)),
		zap.String("assignee", ticket.AssigneeID()))
	s.publish(ctx, change)
	return ticket.Clone(), nil
}

func (s *TicketService) openApprovalGate(ctx context.Context, change *ticketChange) error {
	ticket := change.ticket
	stages, err := s.approvals.ListStagesByForm(ctx, *ticket.FormID)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return nil
	}
	requests, activation, err := s.workflow.plan(ctx, ticket.ID, stages, change.now)
	if err != nil {
		return err
	}

	var gateErr error
	change.withActor(domain.SystemActor(domain.SystemApprovalWorkflow), func() {
		ticket.RequiresApproval = true
		change.setApprovalStatus(domain.ApprovalStatusPending, "form requires approval")
		if gateErr = s.setStatus(change, domain.TicketStatusNeedApproval, "form requires approval", true); gateErr != nil {
			return
		}
		change.upsertRequests(requests...)
		gateErr = s.applyActivation(ctx, change, activation)
	})
	return gateErr
}

// applyActivation records a workflow step: skipped-stage comments, the
// approval request notification, or completion of the gate.
func (s *TicketService) applyActivation(ctx context.Context, change *ticketChange, activation *stageActivation) error {
	change.upsertRequests(activation.changed...)
	for _, stage := range activation.skipped {
		change.addComment(domain.ActorTypeSystem, domain.SystemApprovalWorkflow,
			"Approval stage \""+stage.Name+"\" skipped: no eligible approver.")
	}
	if activation.current != nil && activation.current.ApproverID != nil && activation.stage != nil {
		change.emit(events.EventApprovalRequested, events.ApprovalRequestedPayload{
			RequestID:  activation.current.ID,
			StageName:  activation.stage.Name,
			StageOrder: activation.current.StageOrder,
			ApproverID: *activation.current.ApproverID,
		})
	}
	if !activation.done {
		return nil
	}
	change.setApprovalStatus(domain.ApprovalStatusApproved, "all approval stages approved")
	if err := s.setStatus(change, domain.TicketStatusInProgress, "approval granted", true); err != nil {
		return err
	}
	if change.ticket.AssignedTo != nil {
		return nil
	}
	t := change.ticket
	decision, err := s.assignment.decide(ctx, t.Category, t.Priority, t.Type)
	if err != nil {
		return err
	}
	if decision != nil {
		change.withActor(domain.SystemActor(domain.SystemAssignment), func() {
			change.setAssignee(&decision.UserID, "assignment rule "+decision.RuleName)
		})
	}
	return nil
}

// GetTicket returns a ticket visible to actor.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// UpdateTicket applies a partial update through the state machine.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Actor, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if err := validateUpdateInput(input); err != nil {
		return nil, err
	}
	if input.AssignedTo != nil && *input.AssignedTo != "" {
		if err := s.requireAssignableUser(ctx, *input.AssignedTo); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, ticketID, actor, func(change *ticketChange) error {
		t := change.ticket
		if !canView(actor, t) {
			return apperrors.NewForbidden("access denied")
		}
		if !isStaff(actor) && (input.Priority != nil || input.AssignedTo != nil) {
			return apperrors.NewForbidden("only agents may change priority or assignee")
		}
		if input.Title != nil {
			t.Title = strings.TrimSpace(*input.Title)
			change.touch()
		}
		if input.Description != nil {
			t.Description = strings.TrimSpace(*input.Description)
			change.touch()
		}
		if input.Category != nil {
			t.Category = strings.TrimSpace(*input.Category)
			change.touch()
		}
		if input.Urgency != nil {
			t.Urgency = *input.Urgency
			change.touch()
		}
		if input.Status != nil {
			if err := s.setStatus(change, *input.Status, input.Reason, false); err != nil {
				return err
			}
		}
		if input.Priority != nil {
			if err := s.setPriority(ctx, change, *input.Priority, input.Reason); err != nil {
				return err
			}
		}
		if input.AssignedTo != nil {
			var assignee *string
			if *input.AssignedTo != "" {
				assignee = input.AssignedTo
			}
			change.setAssignee(assignee, input.Reason)
		}
		return nil
	})
}

// AssignTicket sets the assignee.
func (s *TicketService) AssignTicket(ctx context.Context, actor domain.Actor, ticketID, userID string) (*domain.Ticket, error) {
	if !isStaff(actor) {
		return nil, apperrors.NewForbidden("only agents may assign tickets")
	}
	if err := s.requireAssignableUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, ticketID, actor, func(change *ticketChange) error {
		change.setAssignee(&userID, "manual assignment")
		return nil
	})
}

// AddComment appends a comment authored by actor.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ticketID, body string) (*domain.TicketComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("comment body is required", nil)
	}
	var comment domain.TicketComment
	_, err := s.mutate(ctx, ticketID, actor, func(change *ticketChange) error {
		if !canView(actor, change.ticket) {
			return apperrors.NewForbidden("access denied")
		}
		comment = change.addComment(actor.Type, actor.ID, body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListHistory returns the audit trail of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	history, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return history, nil
}

// ListComments returns the ticket thread.
func (s *TicketService) ListComments(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketComment, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return comments, nil
}

// PurgeTicket deletes a ticket and everything that hangs off it.
func (s *TicketService) PurgeTicket(ctx context.Context, actor domain.Actor, ticketID string) error {
	if !actor.IsAdmin() {
		return apperrors.NewForbidden("admin role required")
	}
	unlock := s.locks.Lock(ticketID)
	defer unlock()
	if err := s.tickets.Purge(ctx, ticketID); err != nil {
		return mapTicketErr(err, ticketID)
	}
	s.logger.Info("ticket purged", zap.String("ticket_id", ticketID), zap.String("actor", actor.ID))
	return nil
}

// mutate serializes a change to one ticket and persists it atomically.
// Events are published after the lock is released.
func (s *TicketService) mutate(ctx context.Context, ticketID string, actor domain.Actor, fn func(*ticketChange) error) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	ticket, change, err := s.applyLocked(ctx, ticketID, actor, fn)
	unlock()
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publish(ctx, change)
	}
	return ticket, nil
}

// applyLocked persists a change for callers holding the ticket lock. The
// returned change is nil when nothing changed; the caller publishes it.
func (s *TicketService) applyLocked(ctx context.Context, ticketID string, actor domain.Actor, fn func(*ticketChange) error) (*domain.Ticket, *ticketChange, error) {
	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	change := newTicketChange(current.Clone(), actor, s.nowFn())
	if err := fn(change); err != nil {
		return nil, nil, err
	}
	if !change.dirty {
		return current, nil, nil
	}
	change.ticket.UpdatedAt = change.now
	if err := s.tickets.Apply(ctx, change.write()); err != nil {
		return nil, nil, mapTicketErr(err, ticketID)
	}
	return change.ticket.Clone(), change, nil
}

// setStatus enforces the transition table. Entering or leaving
// need_approval is reserved for the approval workflow.
func (s *TicketService) setStatus(change *ticketChange, to domain.TicketStatus, reason string, viaWorkflow bool) error {
	t := change.ticket
	from := t.Status
	if from == to {
		return nil
	}
	if err := s.checkTransition(from, to, viaWorkflow); err != nil {
		return err
	}
	t.Status = to
	t.StateChangedAt = change.now
	if to.IsResolved() {
		if t.ResolvedAt == nil {
			resolvedAt := change.now
			t.ResolvedAt = &resolvedAt
		}
	} else {
		t.ResolvedAt = nil
	}
	change.addHistory(domain.ChangeTypeStatus,
		map[string]any{"status": from},
		map[string]any{"status": to},
		reason)
	change.emit(events.EventTicketStatusChanged, events.TicketStatusChangedPayload{
		OldStatus: from,
		NewStatus: to,
		Reason:    reason,
	})
	s.metrics.RecordTransition(string(from), string(to))
	return nil
}

func (s *TicketService) checkTransition(from, to domain.TicketStatus, viaWorkflow bool) error {
	details := map[string]any{"from": from, "to": to}
	if viaWorkflow {
		if containsStatus(workflowTransitions[from], to) || containsStatus(allowedTransitions[from], to) {
			return nil
		}
		return apperrors.NewConflict("invalid status transition", details)
	}
	if from == domain.TicketStatusNeedApproval || to == domain.TicketStatusNeedApproval {
		return apperrors.NewConflict("approval state is managed by the approval workflow", details)
	}
	if s.strict && !containsStatus(allowedTransitions[from], to) {
		return apperrors.NewConflict("invalid status transition", details)
	}
	return nil
}

// setPriority changes priority and restarts the SLA clock from now.
func (s *TicketService) setPriority(ctx context.Context, change *ticketChange, to domain.TicketPriority, reason string) error {
	t := change.ticket
	from := t.Priority
	if from == to {
		return nil
	}
	deadline, err := s.sla.ComputeDeadline(ctx, to, change.now)
	if err != nil {
		return apperrors.MapError(err)
	}
	t.Priority = to
	t.StateChangedAt = change.now
	oldDeadline := t.SLADeadline
	t.SLADeadline = deadline
	change.addHistory(domain.ChangeTypePriority,
		map[string]any{"priority": from, "sla_deadline": oldDeadline},
		map[string]any{"priority": to, "sla_deadline": deadline},
		reason)
	change.emit(events.EventTicketPriorityChanged, events.TicketPriorityChangedPayload{
		OldPriority: from,
		NewPriority: to,
	})
	return nil
}

func (s *TicketService) requireAssignableUser(ctx context.Context, userID string) error {
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return apperrors.MapError(err)
	}
	if !user.Active {
		return apperrors.NewConflict("assignee inactive", map[string]any{"user_id": userID})
	}
	return nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, mapTicketErr(err, ticketID)
	}
	return ticket, nil
}

func (s *TicketService) publish(ctx context.Context, change *ticketChange) {
	if s.dispatcher == nil {
		return
	}
	ref := events.NewTicketRef(change.ticket)
	for _, event := range change.events {
		event.Ticket = ref
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("event handler failed",
				zap.String("ticket_id", ref.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

func mapTicketErr(err error, ticketID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

func normalizeCreateInput(input *TicketCreateInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.TrimSpace(input.Category)
	if input.Title == "" {
		return apperrors.NewValidationError("title is required", nil)
	}
	if input.Type == "" {
		input.Type = domain.TicketTypeIncident
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if input.Urgency == "" {
		input.Urgency = domain.TicketUrgencyMedium
	}
	if !input.Type.Valid() {
		return apperrors.NewValidationError("invalid type", map[string]any{"type": input.Type})
	}
	if !input.Priority.Valid() {
		return apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	if !input.Urgency.Valid() {
		return apperrors.NewValidationError("invalid urgency", map[string]any{"urgency": input.Urgency})
	}
	if input.AssignedTo != nil && strings.TrimSpace(*input.AssignedTo) == "" {
		input.AssignedTo = nil
	}
	if input.FormID != nil && strings.TrimSpace(*input.FormID) == "" {
		input.FormID = nil
	}
	return nil
}

func validateUpdateInput(input TicketUpdateInput) error {
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return apperrors.NewValidationError("title cannot be empty", nil)
	}
	if input.Status != nil && !input.Status.Valid() {
		return apperrors.NewValidationError("invalid status", map[string]any{"status": *input.Status})
	}
	if input.Priority != nil && !input.Priority.Valid() {
		return apperrors.NewValidationError("invalid priority", map[string]any{"priority": *input.Priority})
	}
	if input.Urgency != nil && !input.Urgency.Valid() {
		return apperrors.NewValidationError("invalid urgency", map[string]any{"urgency": *input.Urgency})
	}
	return nil
}

// canView lets agents and admins see everything; requesters see their own.
func canView(actor domain.Actor, ticket *domain.Ticket) bool {
	return isStaff(actor) || ticket.CreatedBy == actor.ID
}

func isStaff(actor domain.Actor) bool {
	return actor.Type == domain.ActorTypeSystem || actor.Role == domain.UserRoleAdmin || actor.Role == domain.UserRoleAgent
}

func containsStatus(set []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// stringPreview shortens body to at most max runes.
func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
