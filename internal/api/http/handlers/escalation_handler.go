package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// EscalationHandler lets an external scheduler trigger a pass.
type EscalationHandler struct {
	scanner *service.EscalationScanner
}

// NewEscalationHandler constructs handler.
func NewEscalationHandler(scanner *service.EscalationScanner) *EscalationHandler {
	return &EscalationHandler{scanner: scanner}
}

// Scan POST /internal/escalations/scan. The pass is detached from the
// request deadline so a slow scan finishes even if the caller gives up.
func (h *EscalationHandler) Scan(c *fiber.Ctx) error {
	report, err := h.scanner.RunEscalationScan(context.WithoutCancel(c.UserContext()))
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if report.Skipped {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": report})
}
