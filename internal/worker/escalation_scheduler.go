package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// Scanner runs one escalation pass.
type Scanner interface {
	RunEscalationScan(ctx context.Context) (service.ScanReport, error)
}

// EscalationScheduler triggers escalation passes on a fixed interval.
type EscalationScheduler struct {
	scanner  Scanner
	interval time.Duration
	logger   *zap.Logger
}

// NewEscalationScheduler builds the loop; a non-positive interval means five minutes.
func NewEscalationScheduler(scanner Scanner, interval time.Duration, logger *zap.Logger) *EscalationScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &EscalationScheduler{scanner: scanner, interval: interval, logger: logger}
}

// Run scans once per tick until ctx is cancelled. The first pass happens
// one interval after start.
func (s *EscalationScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *EscalationScheduler) runOnce(ctx context.Context) {
	report, err := s.scanner.RunEscalationScan(ctx)
	if err != nil {
		s.logger.Error("escalation scan failed", zap.Error(err))
		return
	}
	if report.Skipped {
		s.logger.Debug("escalation scan skipped")
	}
}
