package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// ErrNotFound is returned by every repository when the requested row is absent.
var ErrNotFound = errors.New("not found")

// TicketWrite bundles everything a single ticket mutation persists. Every
// field is written in one transaction.
type TicketWrite struct {
	Ticket    *domain.Ticket
	History   []domain.TicketHistory
	Comments  []domain.TicketComment
	Approvals []domain.ApprovalRequest
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, w TicketWrite) error
	Apply(ctx context.Context, w TicketWrite) error
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	ListEscalatable(ctx context.Context) ([]domain.Ticket, error)
	CountOpenByAssignee(ctx context.Context, userIDs []string) (map[string]int, error)
	Purge(ctx context.Context, id string) error
}

// TicketHistoryRepository reads the audit trail.
type TicketHistoryRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

// TicketCommentRepository reads ticket comments.
type TicketCommentRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketComment, error)
}

// SLAPolicyRepository exposes the SLA policy table.
type SLAPolicyRepository interface {
	ListEnabled(ctx context.Context) ([]domain.SLAPolicy, error)
}

// AssignmentRuleRepository exposes assignment rules.
type AssignmentRuleRepository interface {
	ListActive(ctx context.Context) ([]domain.AssignmentRule, error)
}

// EscalationRuleRepository exposes escalation rules.
type EscalationRuleRepository interface {
	ListActive(ctx context.Context) ([]domain.EscalationRule, error)
}

// ApprovalRepository reads approval stages and requests. Requests are written
// through TicketRepository so they share the ticket's transaction.
type ApprovalRepository interface {
	ListStagesByForm(ctx context.Context, formID string) ([]domain.ApprovalStage, error)
	GetStage(ctx context.Context, id string) (*domain.ApprovalStage, error)
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListRequestsByTicket(ctx context.Context, ticketID string) ([]domain.ApprovalRequest, error)
}

// DirectoryRepository is the read-only user/team directory adapter.
type DirectoryRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	FindFirstUserByRole(ctx context.Context, role domain.UserRole) (*domain.User, error)
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
}

// EscalationFiringRepository remembers which breaches already fired.
type EscalationFiringRepository interface {
	HasFired(ctx context.Context, ruleID, ticketID, breachKey string) (bool, error)
	Record(ctx context.Context, firing domain.EscalationFiring) error
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
