package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

func overdueRule(id string, minutes int) domain.EscalationRule {
	return domain.EscalationRule{
		ID: id, Name: id, IsActive: true, Priority: 1,
		Conditions: domain.EscalationConditions{OverdueByMinutes: intPtr(minutes)},
		Actions:    domain.EscalationActions{AddComment: strPtr("Escalated: SLA breached")},
	}
}

func (e *testEnv) scan(t *testing.T) ScanReport {
	t.Helper()
	report, err := e.scanner.RunEscalationScan(context.Background())
	require.NoError(t, err)
	return report
}

func (e *testEnv) comments(t *testing.T, ticketID string) []domain.TicketComment {
	t.Helper()
	comments, err := e.repos.Comments.ListByTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return comments
}

func TestOverdueBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)
	env.store.AddEscalationRule(overdueRule("late", 30))
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	env.clock.Set(t0.Add(260 * time.Minute))
	report := env.scan(t)
	assert.Equal(t, 1, report.Tickets)
	assert.Zero(t, report.Firings)
	assert.Empty(t, env.comments(t, ticket.ID))

	env.clock.Set(t0.Add(271 * time.Minute))
	report = env.scan(t)
	assert.Equal(t, 1, report.Firings)
	comments := env.comments(t, ticket.ID)
	require.Len(t, comments, 1)
	assert.Equal(t, domain.ActorTypeSystem, comments[0].AuthorType)
	assert.Equal(t, domain.SystemScheduler, comments[0].AuthorID)
}

func TestTicketWithoutDeadlineNeverOverdue(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddEscalationRule(overdueRule("late", 0))
	env.create(t, TicketCreateInput{Priority: domain.TicketPriorityLow})

	env.clock.Advance(1000 * time.Hour)
	assert.Zero(t, env.scan(t).Firings)
}

func TestEveryScanRefires(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)
	env.store.AddEscalationRule(overdueRule("late", 30))
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	env.clock.Set(t0.Add(300 * time.Minute))
	env.scan(t)
	env.clock.Advance(5 * time.Minute)
	env.scan(t)

	assert.Len(t, env.comments(t, ticket.ID), 2)
}

func TestOncePerBreachFiresOnce(t *testing.T) {
	env := newTestEnv(t, withFireMode(config.FireModeOncePerBreach))
	env.addPolicy(domain.TicketPriorityHigh, 240)
	env.addPolicy(domain.TicketPriorityCritical, 60)
	env.store.AddEscalationRule(overdueRule("late", 30))
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	env.clock.Set(t0.Add(300 * time.Minute))
	assert.Equal(t, 1, env.scan(t).Firings)
	env.clock.Advance(5 * time.Minute)
	report := env.scan(t)
	assert.Equal(t, 1, report.Matches)
	assert.Zero(t, report.Firings)
	assert.Len(t, env.comments(t, ticket.ID), 1)

	// A priority change restarts the clock; breaching the new deadline is a new episode.
	_, err := env.tickets.UpdateTicket(context.Background(), agent(agentA), ticket.ID, TicketUpdateInput{
		Priority: priorityPtr(domain.TicketPriorityCritical),
	})
	require.NoError(t, err)
	env.clock.Advance(91 * time.Minute)
	assert.Equal(t, 1, env.scan(t).Firings)
	assert.Len(t, env.comments(t, ticket.ID), 2)
}

func TestOncePerBreachReenteringStateIsNewEpisode(t *testing.T) {
	env := newTestEnv(t, withFireMode(config.FireModeOncePerBreach))
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "held", Name: "held too long", IsActive: true, Priority: 1,
		Conditions: domain.EscalationConditions{Statuses: []domain.TicketStatus{domain.TicketStatusOnHold}},
		Actions:    domain.EscalationActions{AddComment: strPtr("still on hold")},
	})
	ticket := env.create(t, TicketCreateInput{})
	moveTo := func(status domain.TicketStatus) {
		t.Helper()
		_, err := env.tickets.UpdateTicket(context.Background(), agent(agentA), ticket.ID, TicketUpdateInput{Status: statusPtr(status)})
		require.NoError(t, err)
	}

	moveTo(domain.TicketStatusOnHold)
	env.clock.Advance(time.Minute)
	assert.Equal(t, 1, env.scan(t).Firings)
	env.clock.Advance(time.Minute)
	assert.Zero(t, env.scan(t).Firings)

	moveTo(domain.TicketStatusInProgress)
	env.clock.Advance(24 * time.Hour)
	moveTo(domain.TicketStatusOnHold)
	env.clock.Advance(time.Minute)
	report := env.scan(t)
	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 1, report.Firings)
	assert.Len(t, env.comments(t, ticket.ID), 2)
}

func TestLaterRulesSeeEarlierChanges(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)
	env.addPolicy(domain.TicketPriorityCritical, 60)
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "second", Name: "page on-call", IsActive: true, Priority: 2,
		Conditions: domain.EscalationConditions{Priorities: []domain.TicketPriority{domain.TicketPriorityCritical}},
		Actions:    domain.EscalationActions{AddComment: strPtr("paged")},
	})
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "first", Name: "bump", IsActive: true, Priority: 1,
		Conditions: domain.EscalationConditions{
			Priorities: []domain.TicketPriority{domain.TicketPriorityHigh},
			Statuses:   []domain.TicketStatus{domain.TicketStatusNew},
		},
		Actions: domain.EscalationActions{ChangePriority: priorityPtr(domain.TicketPriorityCritical)},
	})
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	env.clock.Advance(time.Minute)
	report := env.scan(t)
	assert.Equal(t, 2, report.Firings)

	got := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketPriorityCritical, got.Priority)
	require.NotNil(t, got.SLADeadline)
	assert.Equal(t, t0.Add(61*time.Minute), *got.SLADeadline)
	comments := env.comments(t, ticket.ID)
	require.Len(t, comments, 1)
	assert.Equal(t, "paged", comments[0].Body)
}

func TestEscalationActionsInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddTeam(domain.Team{ID: "ops", LeaderID: strPtr(agentB), MemberIDs: []string{agentA, agentB}})
	env.store.AddTeam(domain.Team{ID: "pool", MemberIDs: []string{agentB, agentA}})
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "all", Name: "everything", IsActive: true, Priority: 1,
		Actions: domain.EscalationActions{
			NotifyUsers:    []string{agentA, adminID},
			NotifyTeams:    []string{"ops", "ghost"},
			ReassignTo:     domain.AssignTarget{Kind: domain.AssignTargetRoundRobin, TeamID: "pool"},
			ChangePriority: priorityPtr(domain.TicketPriorityHigh),
			AddComment:     strPtr("escalated"),
		},
	})
	ticket := env.create(t, TicketCreateInput{})
	env.sent.Reset()

	report := env.scan(t)
	require.Equal(t, 1, report.Firings)
	assert.Zero(t, report.Failures)

	escalations := func(userID string) int {
		n := 0
		for _, note := range env.sent.For(userID) {
			if note.Type == domain.NotificationEscalation {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, escalations(agentA))
	assert.Equal(t, 1, escalations(agentB))
	assert.Equal(t, 1, escalations(adminID))

	got := env.reload(t, ticket.ID)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, agentB, *got.AssignedTo, "round robin resolves like a team during escalation")
	assert.Equal(t, domain.TicketPriorityHigh, got.Priority)

	history, err := env.repos.History.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ChangeTypeAssignee, history[1].ChangeType)
	assert.Equal(t, domain.ChangeTypePriority, history[2].ChangeType)
	assert.Equal(t, domain.SystemScheduler, history[2].ChangedByID)
}

func TestScanSkipsClosedAndRejected(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "any", Name: "any", IsActive: true, Actions: domain.EscalationActions{AddComment: strPtr("hi")},
	})
	open := env.create(t, TicketCreateInput{})
	done := env.create(t, TicketCreateInput{})
	for _, status := range []domain.TicketStatus{domain.TicketStatusInProgress, domain.TicketStatusResolved} {
		_, err := env.tickets.UpdateTicket(context.Background(), agent(agentA), done.ID, TicketUpdateInput{Status: statusPtr(status)})
		require.NoError(t, err)
	}

	report := env.scan(t)
	assert.Equal(t, 1, report.Tickets)
	assert.Len(t, env.comments(t, open.ID), 1)
	assert.Empty(t, env.comments(t, done.ID))
}

func TestInactiveRulesIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "off", IsActive: false, Actions: domain.EscalationActions{AddComment: strPtr("hi")},
	})
	env.create(t, TicketCreateInput{})
	assert.Zero(t, env.scan(t).Firings)
}

func TestScanIsolatesTicketFailures(t *testing.T) {
	var failing *failingApplyRepo
	env := newTestEnv(t, withTicketRepo(func(r repository.TicketRepository) repository.TicketRepository {
		failing = &failingApplyRepo{TicketRepository: r}
		return failing
	}))
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "any", Name: "any", IsActive: true, Actions: domain.EscalationActions{AddComment: strPtr("hi")},
	})
	broken := env.create(t, TicketCreateInput{})
	panicking := env.create(t, TicketCreateInput{})
	healthy := env.create(t, TicketCreateInput{})
	failing.ticketID = broken.ID
	failing.panicID = panicking.ID

	report := env.scan(t)

	assert.Equal(t, 3, report.Tickets)
	assert.Equal(t, 2, report.Failures)
	assert.Equal(t, 1, report.Firings)
	assert.Len(t, env.comments(t, healthy.ID), 1)
	assert.Empty(t, env.comments(t, broken.ID))
}

func TestOverlappingScanIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.running.Store(true)
	report := env.scan(t)
	assert.True(t, report.Skipped)

	env.scanner.running.Store(false)
	assert.False(t, env.scan(t).Skipped)
}

func TestDistributedLockHeldElsewhereSkips(t *testing.T) {
	locker := &stubLocker{ok: false}
	env := newTestEnv(t, withLocker(locker))
	assert.True(t, env.scan(t).Skipped)

	locker.ok = true
	assert.False(t, env.scan(t).Skipped)
	assert.Equal(t, 1, locker.released)
}

func TestDistributedLockErrorFallsBackToLocalGuard(t *testing.T) {
	env := newTestEnv(t, withLocker(&stubLocker{err: errors.New("redis down")}))
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "any", Name: "any", IsActive: true, Actions: domain.EscalationActions{AddComment: strPtr("hi")},
	})
	env.create(t, TicketCreateInput{})

	report := env.scan(t)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Firings)
}

func TestPurgeRemovesFiringRecords(t *testing.T) {
	env := newTestEnv(t, withFireMode(config.FireModeOncePerBreach))
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "any", Name: "any", IsActive: true, Actions: domain.EscalationActions{AddComment: strPtr("hi")},
	})
	ticket := env.create(t, TicketCreateInput{})
	env.scan(t)

	ctx := context.Background()
	breach := "state:" + string(domain.TicketStatusNew) + "|" + string(domain.TicketPriorityMedium)
	fired, err := env.repos.Firings.HasFired(ctx, "any", ticket.ID, breach)
	require.NoError(t, err)
	require.True(t, fired)

	require.NoError(t, env.tickets.PurgeTicket(ctx, admin(), ticket.ID))
	fired, err = env.repos.Firings.HasFired(ctx, "any", ticket.ID, breach)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEscalationDeliveryRunsOutsideTicketLock(t *testing.T) {
	sender := &reentrantSender{result: make(chan error, 1)}
	env := newTestEnv(t, withSender(sender))
	env.store.AddEscalationRule(domain.EscalationRule{
		ID: "ping", Name: "ping", IsActive: true, Priority: 1,
		Actions: domain.EscalationActions{
			NotifyUsers: []string{agentA},
			AddComment:  strPtr("escalated"),
		},
	})
	ticket := env.create(t, TicketCreateInput{})

	sender.reenter = func(ticketID string) error {
		_, err := env.tickets.AddComment(context.Background(), agent(agentA), ticketID, "on it")
		return err
	}
	sender.armed.Store(true)

	assert.Equal(t, 1, env.scan(t).Firings)
	require.NoError(t, <-sender.result)
	assert.Len(t, env.comments(t, ticket.ID), 2)
}
