// Command escalation-scan runs a single escalation pass and prints its report.
// External schedulers (cron, Kubernetes CronJob) use it instead of the
// in-process ticker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/app"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
)

func main() {
	var (
		seedFile  = pflag.String("seed", "", "YAML seed for the in-memory store (overrides ENGINE_SEED_FILE)")
		fireMode  = pflag.String("fire-mode", "", "escalation fire mode: every_scan or once_per_breach")
		workers   = pflag.Int("workers", 0, "tickets processed concurrently (0 keeps ENGINE_SCAN_WORKERS)")
		hashToken = pflag.String("hash-token", "", "print the bcrypt hash of a scheduler token and exit")
		hashCost  = pflag.Int("hash-cost", 0, "bcrypt cost for --hash-token")
	)
	pflag.Parse()

	if *hashToken != "" {
		hash, err := auth.HashPassword(*hashToken, *hashCost)
		if err != nil {
			log.Fatalf("hash token: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *seedFile != "" {
		cfg.Engine.SeedFile = *seedFile
	}
	if *fireMode != "" {
		cfg.Engine.EscalationFireMode = *fireMode
	}
	if *workers > 0 {
		cfg.Engine.ScanWorkers = *workers
	}
	if err := cfg.Engine.Validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer engine.Close()

	report, err := engine.Scanner.RunEscalationScan(ctx)
	if err != nil {
		logger.Fatal("escalation scan failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal("encode report", zap.Error(err))
	}
}
