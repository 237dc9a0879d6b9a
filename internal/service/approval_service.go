package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// RespondToApproval records an approver's decision on the current stage.
// Approval of the last stage opens the ticket; any rejection closes the gate.
func (s *TicketService) RespondToApproval(ctx context.Context, actor domain.Actor, requestID string, decision domain.ApprovalDecision, comments string) (*domain.ApprovalRequest, error) {
	if !decision.Valid() {
		return nil, apperrors.NewValidationError("decision must be approved or rejected", map[string]any{"decision": decision})
	}
	req, err := s.approvals.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("approval request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.MapError(err)
	}

	var answered domain.ApprovalRequest
	_, err = s.mutate(ctx, req.TicketID, actor, func(change *ticketChange) error {
		requests, err := s.approvals.ListRequestsByTicket(ctx, req.TicketID)
		if err != nil {
			return apperrors.MapError(err)
		}
		idx := indexOfRequest(requests, requestID)
		if idx < 0 {
			return apperrors.NewNotFound("approval request", map[string]any{"request_id": requestID})
		}
		current := requests[idx]
		if change.ticket.Status != domain.TicketStatusNeedApproval || !current.IsCurrent() {
			return apperrors.NewConflict("approval request is not awaiting a decision", map[string]any{
				"request_id": requestID,
				"status":     current.Status,
			})
		}
		if !mayDecide(actor, current) {
			return apperrors.NewForbidden("only the designated approver may respond")
		}

		respondedAt := change.now
		current.Status = domain.ApprovalRequestStatus(decision)
		current.Comments = strings.TrimSpace(comments)
		current.RespondedAt = &respondedAt
		requests[idx] = current
		change.upsertRequests(current)
		answered = current

		final := decision == domain.DecisionReject
		if decision == domain.DecisionReject {
			change.setApprovalStatus(domain.ApprovalStatusRejected, "approval stage rejected")
			if err := s.setStatus(change, domain.TicketStatusRejected, "approval rejected", true); err != nil {
				return err
			}
		} else {
			activation, err := s.workflow.activateNext(ctx, requests, change.now)
			if err != nil {
				return apperrors.MapError(err)
			}
			final = activation.done
			var applyErr error
			change.withActor(domain.SystemActor(domain.SystemApprovalWorkflow), func() {
				applyErr = s.applyActivation(ctx, change, activation)
			})
			if applyErr != nil {
				return apperrors.MapError(applyErr)
			}
		}

		change.emit(events.EventApprovalDecided, events.ApprovalDecidedPayload{
			RequestID:  current.ID,
			StageOrder: current.StageOrder,
			Decision:   decision,
			Final:      final,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval decided",
		zap.String("ticket_id", answered.TicketID),
		zap.String("request_id", answered.ID),
		zap.String("decision", string(decision)),
		zap.String("actor", actor.ID))
	return &answered, nil
}

// ListApprovals returns the approval requests of a ticket in stage order.
func (s *TicketService) ListApprovals(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.ApprovalRequest, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	requests, err := s.approvals.ListRequestsByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return requests, nil
}

// mayDecide allows the resolved approver, or an admin. A stage stalled
// without approver can only be unblocked by an admin.
func mayDecide(actor domain.Actor, req domain.ApprovalRequest) bool {
	if actor.IsAdmin() {
		return true
	}
	return req.ApproverID != nil && *req.ApproverID == actor.ID
}

func indexOfRequest(requests []domain.ApprovalRequest, id string) int {
	for i := range requests {
		if requests[i].ID == id {
			return i
		}
	}
	return -1
}
