package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/servicedesk-engine/internal/api/http"
	"github.com/spec-kit/servicedesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk-engine/internal/app"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer engine.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, engine.Directory)

	fiberApp := fiber.New()
	httptransport.RegisterMiddlewares(fiberApp, logger, engine.Metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:             handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, engine.Postgres, engine.Redis),
		Tickets:            handlers.NewTicketsHandler(engine.Tickets),
		Approvals:          handlers.NewApprovalsHandler(engine.Tickets),
		Escalations:        handlers.NewEscalationHandler(engine.Scanner),
		AuthMiddleware:     authMiddleware,
		Metrics:            engine.Metrics,
		SchedulerTokenHash: cfg.Scheduler.TriggerTokenHash,
	})

	if cfg.Scheduler.Enabled {
		scheduler := worker.NewEscalationScheduler(engine.Scanner, cfg.Scheduler.Interval(), logger)
		go func() {
			if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("escalation scheduler stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := fiberApp.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = fiberApp.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
