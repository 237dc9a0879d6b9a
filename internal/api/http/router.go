package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/servicedesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health             *handlers.HealthHandler
	Tickets            *handlers.TicketsHandler
	Approvals          *handlers.ApprovalsHandler
	Escalations        *handlers.EscalationHandler
	AuthMiddleware     *auth.AuthMiddleware
	Metrics            *observability.Metrics
	SchedulerTokenHash string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	internal := app.Group("/internal", auth.RequireSchedulerToken(cfg.SchedulerTokenHash))
	internal.Post("/escalations/scan", cfg.Escalations.Scan)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/assign", auth.RequireRole(domain.UserRoleAgent, domain.UserRoleAdmin), cfg.Tickets.AssignTicket)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)
	tickets.Get("/:id/comments", cfg.Tickets.ListComments)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Get("/:id/approvals", cfg.Approvals.ListApprovals)

	protected.Post("/approvals/:id/respond", cfg.Approvals.Respond)

	admin := protected.Group("/admin", auth.RequireRole(domain.UserRoleAdmin))
	admin.Delete("/tickets/:id", cfg.Tickets.PurgeTicket)
}
