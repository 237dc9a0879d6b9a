package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/rules"
)

// SLAService computes resolution deadlines from the enabled policy table.
type SLAService struct {
	policies repository.SLAPolicyRepository
	logger   *zap.Logger
}

// NewSLAService creates the service.
func NewSLAService(policies repository.SLAPolicyRepository, logger *zap.Logger) *SLAService {
	return &SLAService{policies: policies, logger: logger}
}

// ComputeDeadline returns at plus the resolution time of the enabled policy
// for priority, or nil when there is none. Only repository failures error.
func (s *SLAService) ComputeDeadline(ctx context.Context, priority domain.TicketPriority, at time.Time) (*time.Time, error) {
	policies, err := s.policies.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	matches := 0
	for _, p := range policies {
		if p.Enabled && p.Priority == priority {
			matches++
		}
	}
	if matches > 1 {
		s.logger.Warn("multiple enabled SLA policies for priority; using the first by id",
			zap.String("priority", string(priority)), zap.Int("count", matches))
	}

	deadline := rules.Deadline(policies, priority, at)
	if deadline == nil {
		s.logger.Debug("no enabled SLA policy", zap.String("priority", string(priority)))
	}
	return deadline, nil
}
