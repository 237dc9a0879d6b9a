package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

// ApprovalWorkflow plans approval requests and advances stages. It never
// writes; the ticket service persists its output with the ticket.
type ApprovalWorkflow struct {
	approvals repository.ApprovalRepository
	directory repository.DirectoryRepository
	policy    string
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// ApprovalDependencies bundles the workflow collaborators.
type ApprovalDependencies struct {
	ApprovalRepo         repository.ApprovalRepository
	DirectoryRepo        repository.DirectoryRepository
	UnresolvableApprover string
	Logger               *zap.Logger
	Metrics              *observability.Metrics
}

// NewApprovalWorkflow creates the workflow. An empty policy means stall.
func NewApprovalWorkflow(deps ApprovalDependencies) *ApprovalWorkflow {
	policy := deps.UnresolvableApprover
	if policy == "" {
		policy = config.ApproverPolicyStall
	}
	return &ApprovalWorkflow{
		approvals: deps.ApprovalRepo,
		directory: deps.DirectoryRepo,
		policy:    policy,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// stageActivation is the outcome of moving to the next dormant stage.
type stageActivation struct {
	// changed holds every request whose state was modified.
	changed []domain.ApprovalRequest
	// current is the newly requested stage; nil when none is waiting.
	current *domain.ApprovalRequest
	stage   *domain.ApprovalStage
	// skipped lists stages auto-approved under the skip policy.
	skipped []domain.ApprovalStage
	// done is true once every request is approved.
	done bool
}

// plan creates one dormant request per stage, then activates the first.
func (w *ApprovalWorkflow) plan(ctx context.Context, ticketID string, stages []domain.ApprovalStage, now time.Time) ([]domain.ApprovalRequest, *stageActivation, error) {
	requests := make([]domain.ApprovalRequest, 0, len(stages))
	for _, stage := range stages {
		requests = append(requests, domain.ApprovalRequest{
			ID:         uuid.NewString(),
			TicketID:   ticketID,
			StageID:    stage.ID,
			StageOrder: stage.Order,
			Status:     domain.ApprovalRequestPending,
			CreatedAt:  now,
		})
	}
	activation, err := w.activateNext(ctx, requests, now)
	if err != nil {
		return nil, nil, err
	}
	for _, changed := range activation.changed {
		for i := range requests {
			if requests[i].ID == changed.ID {
				requests[i] = changed
			}
		}
	}
	return requests, activation, nil
}

// activateNext walks requests in stage order and requests the first dormant
// pending one. Under the skip policy, stages without approver are approved
// automatically and the walk continues.
func (w *ApprovalWorkflow) activateNext(ctx context.Context, requests []domain.ApprovalRequest, now time.Time) (*stageActivation, error) {
	out := &stageActivation{}
	for i := range requests {
		req := requests[i]
		switch {
		case req.Status == domain.ApprovalRequestApproved:
			continue
		case req.Status == domain.ApprovalRequestRejected:
			return out, nil
		case req.RequestedAt != nil:
			current := req
			out.current = &current
			return out, nil
		}

		stage, err := w.approvals.GetStage(ctx, req.StageID)
		if err != nil {
			return nil, fmt.Errorf("load approval stage %s: %w", req.StageID, err)
		}
		approverID, err := w.resolveApprover(ctx, stage)
		if err != nil {
			return nil, err
		}
		requestedAt := now
		req.RequestedAt = &requestedAt
		req.ApproverID = approverID

		if approverID == nil {
			w.metrics.RecordUnresolvableApprover()
			w.logger.Warn("no eligible approver for stage",
				zap.String("ticket_id", req.TicketID),
				zap.String("stage_id", stage.ID),
				zap.String("approver_type", string(stage.ApproverType)),
				zap.String("policy", w.policy))
			if w.policy == config.ApproverPolicySkip {
				respondedAt := now
				req.Status = domain.ApprovalRequestApproved
				req.RespondedAt = &respondedAt
				req.Comments = "auto-approved: no eligible approver"
				out.changed = append(out.changed, req)
				out.skipped = append(out.skipped, *stage)
				continue
			}
		}
		out.changed = append(out.changed, req)
		current := req
		out.current = &current
		out.stage = stage
		return out, nil
	}
	out.done = true
	return out, nil
}

// resolveApprover returns nil when the stage has nobody eligible.
func (w *ApprovalWorkflow) resolveApprover(ctx context.Context, stage *domain.ApprovalStage) (*string, error) {
	switch stage.ApproverType {
	case domain.ApproverTypeUser:
		user, err := w.directory.GetUser(ctx, stage.ApproverID)
		if err != nil {
			return nil, ignoreNotFound(err)
		}
		return &user.ID, nil
	case domain.ApproverTypeRole:
		user, err := w.directory.FindFirstUserByRole(ctx, domain.NormalizeRole(stage.ApproverRole))
		if err != nil {
			return nil, ignoreNotFound(err)
		}
		return &user.ID, nil
	case domain.ApproverTypeTeam:
		team, err := w.directory.GetTeam(ctx, stage.ApproverID)
		if err != nil {
			return nil, ignoreNotFound(err)
		}
		if userID, ok := teamHead(team); ok {
			return &userID, nil
		}
		return nil, nil
	default:
		w.logger.Warn("unknown approver type", zap.String("stage_id", stage.ID), zap.String("approver_type", string(stage.ApproverType)))
		return nil, nil
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
