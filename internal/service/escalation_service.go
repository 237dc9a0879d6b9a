package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/rules"
)

// ScanLocker guards an escalation pass across processes. ok is false when
// another holder owns the lock.
type ScanLocker interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// ScanReport summarizes one escalation pass.
type ScanReport struct {
	Skipped   bool          `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Tickets   int           `json:"tickets"`
	Matches   int           `json:"matches"`
	Firings   int           `json:"firings"`
	Failures  int           `json:"failures"`
}

// EscalationScanner evaluates escalation rules against open tickets.
type EscalationScanner struct {
	tickets    *TicketService
	ticketRepo repository.TicketRepository
	rules      repository.EscalationRuleRepository
	firings    repository.EscalationFiringRepository
	assignment *AssignmentService
	notifier   *NotificationService
	locker     ScanLocker
	fireMode   string
	workers    int
	logger     *zap.Logger
	metrics    *observability.Metrics
	nowFn      func() time.Time

	running atomic.Bool
}

// EscalationDependencies bundles collaborators.
type EscalationDependencies struct {
	Tickets    *TicketService
	TicketRepo repository.TicketRepository
	RuleRepo   repository.EscalationRuleRepository
	FiringRepo repository.EscalationFiringRepository
	Assignment *AssignmentService
	Notifier   *NotificationService
	Locker     ScanLocker
	FireMode   string
	Workers    int
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// NewEscalationScanner creates the scanner.
func NewEscalationScanner(deps EscalationDependencies) *EscalationScanner {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	mode := deps.FireMode
	if mode == "" {
		mode = config.FireModeEveryScan
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	return &EscalationScanner{
		tickets:    deps.Tickets,
		ticketRepo: deps.TicketRepo,
		rules:      deps.RuleRepo,
		firings:    deps.FiringRepo,
		assignment: deps.Assignment,
		notifier:   deps.Notifier,
		locker:     deps.Locker,
		fireMode:   mode,
		workers:    workers,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		nowFn:      now,
	}
}

// RunEscalationScan performs one pass. A pass requested while another is in
// flight returns a skipped report. Per-ticket failures are counted, never
// returned; only snapshot reads fail the pass.
func (s *EscalationScanner) RunEscalationScan(ctx context.Context) (ScanReport, error) {
	started := s.nowFn()
	report := ScanReport{StartedAt: started}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("escalation scan already running; skipping")
		report.Skipped = true
		s.metrics.RecordScan(true, 0, 0, 0)
		return report, nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx)
		switch {
		case err != nil:
			s.logger.Warn("scan lock unavailable; continuing with in-process guard", zap.Error(err))
		case !ok:
			s.logger.Info("escalation scan held by another instance; skipping")
			report.Skipped = true
			s.metrics.RecordScan(true, 0, 0, 0)
			return report, nil
		default:
			defer release()
		}
	}

	active, err := s.rules.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("load escalation rules: %w", err)
	}
	ordered := rules.OrderEscalationRules(active)
	open, err := s.ticketRepo.ListEscalatable(ctx)
	if err != nil {
		return report, fmt.Errorf("load open tickets: %w", err)
	}
	report.Tickets = len(open)

	if len(ordered) > 0 {
		s.scanTickets(ctx, ordered, open, started, &report)
	}

	report.Duration = s.nowFn().Sub(started)
	s.metrics.RecordScan(false, report.Tickets, report.Failures, report.Duration)
	s.logger.Info("escalation scan finished",
		zap.Int("tickets", report.Tickets),
		zap.Int("rules", len(ordered)),
		zap.Int("matches", report.Matches),
		zap.Int("firings", report.Firings),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *EscalationScanner) scanTickets(ctx context.Context, ordered []domain.EscalationRule, open []domain.Ticket, now time.Time, report *ScanReport) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)
	for i := range open {
		ticketID := open[i].ID
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			matches, firings, err := s.processTicket(ctx, ordered, ticketID, now)
			mu.Lock()
			defer mu.Unlock()
			report.Matches += matches
			report.Firings += firings
			if err != nil {
				report.Failures++
				s.logger.Error("escalation failed for ticket",
					zap.String("ticket_id", ticketID),
					zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// deferredDelivery is work that must run after the ticket lock is released.
type deferredDelivery func(context.Context)

// processTicket evaluates every rule in order against the ticket's current
// state, so an earlier rule's changes are visible to later ones.
func (s *EscalationScanner) processTicket(ctx context.Context, ordered []domain.EscalationRule, ticketID string, now time.Time) (matches, firings int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var outbox []deferredDelivery
	matches, firings, err = s.evaluateTicket(ctx, ordered, ticketID, now, &outbox)
	for _, deliver := range outbox {
		deliver(ctx)
	}
	return matches, firings, err
}

// evaluateTicket runs every rule against the ticket under its lock.
// Notifications and events are appended to outbox.
func (s *EscalationScanner) evaluateTicket(ctx context.Context, ordered []domain.EscalationRule, ticketID string, now time.Time, outbox *[]deferredDelivery) (matches, firings int, err error) {
	unlock := s.tickets.locks.Lock(ticketID)
	defer unlock()

	for _, rule := range ordered {
		ticket, err := s.ticketRepo.Get(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return matches, firings, nil
			}
			return matches, firings, err
		}
		if !ticket.Status.Escalatable() {
			return matches, firings, nil
		}
		if !rules.MatchEscalation(rule, ticket, now) {
			continue
		}
		matches++

		breachKey := rules.BreachKey(rule, ticket)
		if s.fireMode == config.FireModeOncePerBreach {
			fired, err := s.firings.HasFired(ctx, rule.ID, ticketID, breachKey)
			if err != nil {
				return matches, firings, err
			}
			if fired {
				continue
			}
		}

		if err := s.applyRule(ctx, rule, ticket, outbox); err != nil {
			return matches, firings, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if s.fireMode == config.FireModeOncePerBreach {
			if err := s.firings.Record(ctx, domain.EscalationFiring{
				RuleID:    rule.ID,
				TicketID:  ticketID,
				BreachKey: breachKey,
				FiredAt:   now,
			}); err != nil {
				return matches, firings, err
			}
		}
		firings++
		s.metrics.RecordRuleFiring(rule.ID)
		s.logger.Info("escalation rule fired",
			zap.String("rule_id", rule.ID),
			zap.String("rule", rule.Name),
			zap.String("ticket_id", ticketID))
	}
	return matches, firings, nil
}

// applyRule runs the actions in order: notify, reassign, change priority,
// comment. The last three land in a single ticket write.
func (s *EscalationScanner) applyRule(ctx context.Context, rule domain.EscalationRule, ticket *domain.Ticket, outbox *[]deferredDelivery) error {
	actions := rule.Actions

	recipients := append([]string{}, actions.NotifyUsers...)
	for _, teamID := range actions.NotifyTeams {
		ids, err := s.notifier.TeamRecipients(ctx, teamID)
		if err != nil {
			return err
		}
		recipients = append(recipients, ids...)
	}
	if len(recipients) > 0 {
		ticketID := ticket.ID
		note := domain.Notification{
			Type:     domain.NotificationEscalation,
			Title:    "Ticket escalated",
			Message:  fmt.Sprintf("Ticket %s \"%s\" was escalated by rule %s", ticket.ExternalKey, ticket.Title, rule.Name),
			TicketID: &ticketID,
		}
		*outbox = append(*outbox, func(ctx context.Context) {
			s.notifier.NotifyUsers(ctx, recipients, note)
		})
	}

	if actions.ReassignTo.IsNone() && actions.ChangePriority == nil && actions.AddComment == nil {
		return nil
	}
	reason := "escalation rule " + rule.Name
	_, change, err := s.tickets.applyLocked(ctx, ticket.ID, domain.SystemActor(domain.SystemScheduler), func(change *ticketChange) error {
		if !actions.ReassignTo.IsNone() {
			userID, ok, err := s.assignment.ResolveTarget(ctx, actions.ReassignTo, false)
			if err != nil {
				return err
			}
			if ok {
				change.setAssignee(&userID, reason)
			} else {
				s.logger.Warn("escalation reassign target unresolved",
					zap.String("rule_id", rule.ID),
					zap.String("ticket_id", ticket.ID))
			}
		}
		if actions.ChangePriority != nil {
			if err := s.tickets.setPriority(ctx, change, *actions.ChangePriority, reason); err != nil {
				return err
			}
		}
		if actions.AddComment != nil && *actions.AddComment != "" {
			change.addComment(domain.ActorTypeSystem, domain.SystemScheduler, *actions.AddComment)
		}
		return nil
	})
	if change != nil {
		*outbox = append(*outbox, func(ctx context.Context) {
			s.tickets.publish(ctx, change)
		})
	}
	return err
}
