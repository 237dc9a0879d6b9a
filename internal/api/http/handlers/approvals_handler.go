package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/service"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// ApprovalsHandler exposes the approval gate.
type ApprovalsHandler struct {
	service *service.TicketService
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(ticketService *service.TicketService) *ApprovalsHandler {
	return &ApprovalsHandler{service: ticketService}
}

// ListApprovals GET /tickets/:id/approvals.
func (h *ApprovalsHandler) ListApprovals(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	requests, err := h.service.ListApprovals(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ApprovalRequestResponse, 0, len(requests))
	for _, req := range requests {
		items = append(items, dto.NewApprovalRequestResponse(req))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Respond POST /approvals/:id/respond.
func (h *ApprovalsHandler) Respond(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ApprovalResponseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	answered, err := h.service.RespondToApproval(c.UserContext(), actor, c.Params("id"), req.Decision, req.Comments)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApprovalRequestResponse(*answered)})
}
