// Package app assembles the engine from configuration. Both the HTTP server
// and the one-shot scan command build on it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/notify"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/persistence"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/repository/memory"
	"github.com/spec-kit/servicedesk-engine/internal/service"
	"github.com/spec-kit/servicedesk-engine/migrations"
)

const scanLockKey = "sde:escalation:scan"

// Engine holds the wired services and the resources to release on shutdown.
type Engine struct {
	Postgres      *persistence.Postgres
	Redis         *persistence.Redis
	Metrics       *observability.Metrics
	Directory     repository.DirectoryRepository
	Tickets       *service.TicketService
	Notifications *service.NotificationService
	Scanner       *service.EscalationScanner

	sender notify.Sender
}

// repositories is the set the services depend on, backed by postgres or memory.
type repositories struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	comments   repository.TicketCommentRepository
	policies   repository.SLAPolicyRepository
	assignment repository.AssignmentRuleRepository
	escalation repository.EscalationRuleRepository
	approvals  repository.ApprovalRepository
	directory  repository.DirectoryRepository
	firings    repository.EscalationFiringRepository
}

// Build connects backends and wires every service. Without POSTGRES_DSN the
// engine runs on the in-memory store, seeded from ENGINE_SEED_FILE.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	redis := persistence.NewRedis(cfg.Redis, logger)

	repos, err := buildRepositories(ctx, cfg, pg, logger)
	if err != nil {
		pg.Close()
		redis.Close()
		return nil, err
	}

	cache := repository.NewRuleCache(redis.Client, cfg.Engine.RuleCacheTTL(), logger)
	repos.policies = repository.WithSLAPolicyCache(repos.policies, cache)
	repos.assignment = repository.WithAssignmentRuleCache(repos.assignment, cache)
	repos.escalation = repository.WithEscalationRuleCache(repos.escalation, cache)
	// Snapshots from a previous deployment may predate seed or migration changes.
	if err := cache.Invalidate(ctx); err != nil {
		logger.Warn("rule cache invalidation failed", zap.Error(err))
	}

	sender, err := buildSender(cfg.Notification, logger, metrics)
	if err != nil {
		pg.Close()
		redis.Close()
		return nil, err
	}

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:    dispatcher,
		DirectoryRepo: repos.directory,
		Sender:        sender,
		Logger:        logger,
		Metrics:       metrics,
	})
	notifications.RegisterHandlers()

	assignment := service.NewAssignmentService(service.AssignmentDependencies{
		RuleRepo:        repos.assignment,
		DirectoryRepo:   repos.directory,
		TicketRepo:      repos.tickets,
		Logger:          logger,
		Metrics:         metrics,
		ExactCategories: cfg.Engine.ExactCategories(),
	})
	workflow := service.NewApprovalWorkflow(service.ApprovalDependencies{
		ApprovalRepo:         repos.approvals,
		DirectoryRepo:        repos.directory,
		UnresolvableApprover: cfg.Engine.UnresolvableApprover,
		Logger:               logger,
		Metrics:              metrics,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:        repos.tickets,
		HistoryRepo:       repos.history,
		CommentRepo:       repos.comments,
		ApprovalRepo:      repos.approvals,
		DirectoryRepo:     repos.directory,
		SLA:               service.NewSLAService(repos.policies, logger),
		Assignment:        assignment,
		Workflow:          workflow,
		Dispatcher:        dispatcher,
		StrictTransitions: cfg.Engine.StrictTransitions,
		Logger:            logger,
		Metrics:           metrics,
	})

	scanDeps := service.EscalationDependencies{
		Tickets:    tickets,
		TicketRepo: repos.tickets,
		RuleRepo:   repos.escalation,
		FiringRepo: repos.firings,
		Assignment: assignment,
		Notifier:   notifications,
		FireMode:   cfg.Engine.EscalationFireMode,
		Workers:    cfg.Engine.ScanWorkers,
		Logger:     logger,
		Metrics:    metrics,
	}
	if locker := persistence.NewScanLocker(redis, scanLockKey, cfg.Engine.ScanLockTTL()); locker != nil {
		scanDeps.Locker = locker
	}

	return &Engine{
		Postgres:      pg,
		Redis:         redis,
		Metrics:       metrics,
		Directory:     repos.directory,
		Tickets:       tickets,
		Notifications: notifications,
		Scanner:       service.NewEscalationScanner(scanDeps),
		sender:        sender,
	}, nil
}

// Close releases the sender and backend connections.
func (e *Engine) Close() {
	_ = e.sender.Close()
	e.Redis.Close()
	e.Postgres.Close()
}

func buildRepositories(ctx context.Context, cfg *config.Config, pg *persistence.Postgres, logger *zap.Logger) (repositories, error) {
	pool := pg.PoolHandle()
	if pool == nil {
		store := memory.NewStore()
		if cfg.Engine.SeedFile != "" {
			if err := store.LoadSeedFile(cfg.Engine.SeedFile); err != nil {
				return repositories{}, fmt.Errorf("load seed: %w", err)
			}
			logger.Info("loaded seed configuration", zap.String("file", cfg.Engine.SeedFile))
		}
		logger.Warn("running on in-memory store; tickets are not persisted")
		r := store.Repositories()
		return repositories{
			tickets:    r.Tickets,
			history:    r.History,
			comments:   r.Comments,
			policies:   r.SLAPolicies,
			assignment: r.AssignmentRules,
			escalation: r.EscalationRules,
			approvals:  r.Approvals,
			directory:  r.Directory,
			firings:    r.Firings,
		}, nil
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return repositories{}, fmt.Errorf("run migrations: %w", err)
		}
	}
	return repositories{
		tickets:    repository.NewTicketRepository(pool),
		history:    repository.NewTicketHistoryRepository(pool),
		comments:   repository.NewTicketCommentRepository(pool),
		policies:   repository.NewSLAPolicyRepository(pool),
		assignment: repository.NewAssignmentRuleRepository(pool),
		escalation: repository.NewEscalationRuleRepository(pool),
		approvals:  repository.NewApprovalRepository(pool),
		directory:  repository.NewDirectoryRepository(pool),
		firings:    repository.NewEscalationFiringRepository(pool),
	}, nil
}

// buildSender puts the outbound channel behind a queue so ticket writes and
// scan workers only enqueue.
func buildSender(cfg config.NotificationConfig, logger *zap.Logger, metrics *observability.Metrics) (notify.Sender, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.NewQueueSender(notify.NewLogSender(logger), cfg.QueueSize, logger, metrics), nil
	}
	sender, err := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("kafka sender: %w", err)
	}
	logger.Info("notifications via kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic))
	return notify.NewQueueSender(sender, cfg.QueueSize, logger, metrics), nil
}
