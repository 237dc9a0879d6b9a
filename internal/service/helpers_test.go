package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/notify"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/repository/memory"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type envConfig struct {
	fireMode       string
	approverPolicy string
	strict         bool
	wrapTickets    func(repository.TicketRepository) repository.TicketRepository
	locker         ScanLocker
	sender         notify.Sender
	exactCategory  bool
}

type envOption func(*envConfig)

func withFireMode(mode string) envOption {
	return func(c *envConfig) { c.fireMode = mode }
}

func withApproverPolicy(policy string) envOption {
	return func(c *envConfig) { c.approverPolicy = policy }
}

func withLenientTransitions() envOption {
	return func(c *envConfig) { c.strict = false }
}

func withTicketRepo(wrap func(repository.TicketRepository) repository.TicketRepository) envOption {
	return func(c *envConfig) { c.wrapTickets = wrap }
}

func withLocker(l ScanLocker) envOption {
	return func(c *envConfig) { c.locker = l }
}

func withExactCategories() envOption {
	return func(c *envConfig) { c.exactCategory = true }
}

// withSender replaces the recorder as the notification sink.
func withSender(s notify.Sender) envOption {
	return func(c *envConfig) { c.sender = s }
}

type testEnv struct {
	store      *memory.Store
	repos      memory.Repositories
	clock      *fakeClock
	sent       *notify.Recorder
	tickets    *TicketService
	assignment *AssignmentService
	notifier   *NotificationService
	scanner    *EscalationScanner
}

// Directory fixtures shared by the service tests.
const (
	requesterID = "u-requester"
	otherUserID = "u-other"
	agentA      = "agent-a"
	agentB      = "agent-b"
	adminID     = "admin-1"
	managerID   = "mgr-1"
)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{
		fireMode:       config.FireModeEveryScan,
		approverPolicy: config.ApproverPolicyStall,
		strict:         true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore()
	store.AddUser(domain.User{ID: requesterID, Name: "Requester", Role: domain.UserRoleUser, Active: true})
	store.AddUser(domain.User{ID: otherUserID, Name: "Other", Role: domain.UserRoleUser, Active: true})
	store.AddUser(domain.User{ID: agentA, Name: "Agent A", Role: domain.UserRoleAgent, Active: true})
	store.AddUser(domain.User{ID: agentB, Name: "Agent B", Role: domain.UserRoleAgent, Active: true})
	store.AddUser(domain.User{ID: adminID, Name: "Admin", Role: domain.UserRoleAdmin, Active: true})
	store.AddUser(domain.User{ID: managerID, Name: "Manager", Role: domain.UserRoleAdmin, Active: true})

	repos := store.Repositories()
	ticketRepo := repos.Tickets
	if cfg.wrapTickets != nil {
		ticketRepo = cfg.wrapTickets(ticketRepo)
	}

	clock := &fakeClock{now: t0}
	logger := zap.NewNop()
	recorder := &notify.Recorder{}
	var sender notify.Sender = recorder
	if cfg.sender != nil {
		sender = cfg.sender
	}
	dispatcher := events.NewInMemoryDispatcher()

	notifier := NewNotificationService(NotificationDependencies{
		Dispatcher:    dispatcher,
		DirectoryRepo: repos.Directory,
		Sender:        sender,
		Logger:        logger,
		Now:           clock.Now,
	})
	notifier.RegisterHandlers()

	assignment := NewAssignmentService(AssignmentDependencies{
		RuleRepo:        repos.AssignmentRules,
		DirectoryRepo:   repos.Directory,
		TicketRepo:      ticketRepo,
		ExactCategories: cfg.exactCategory,
		Logger:          logger,
	})
	workflow := NewApprovalWorkflow(ApprovalDependencies{
		ApprovalRepo:         repos.Approvals,
		DirectoryRepo:        repos.Directory,
		UnresolvableApprover: cfg.approverPolicy,
		Logger:               logger,
	})
	tickets := NewTicketService(TicketDependencies{
		TicketRepo:        ticketRepo,
		HistoryRepo:       repos.History,
		CommentRepo:       repos.Comments,
		ApprovalRepo:      repos.Approvals,
		DirectoryRepo:     repos.Directory,
		SLA:               NewSLAService(repos.SLAPolicies, logger),
		Assignment:        assignment,
		Workflow:          workflow,
		Dispatcher:        dispatcher,
		StrictTransitions: cfg.strict,
		Logger:            logger,
		Now:               clock.Now,
	})
	scanner := NewEscalationScanner(EscalationDependencies{
		Tickets:    tickets,
		TicketRepo: ticketRepo,
		RuleRepo:   repos.EscalationRules,
		FiringRepo: repos.Firings,
		Assignment: assignment,
		Notifier:   notifier,
		Locker:     cfg.locker,
		FireMode:   cfg.fireMode,
		Workers:    4,
		Logger:     logger,
		Now:        clock.Now,
	})

	return &testEnv{
		store:      store,
		repos:      repos,
		clock:      clock,
		sent:       recorder,
		tickets:    tickets,
		assignment: assignment,
		notifier:   notifier,
		scanner:    scanner,
	}
}

func (e *testEnv) addPolicy(priority domain.TicketPriority, minutes int) {
	e.store.AddSLAPolicy(domain.SLAPolicy{
		ID:                    "sla-" + string(priority),
		Name:                  string(priority),
		Priority:              priority,
		ResolutionTimeMinutes: minutes,
		Enabled:               true,
	})
}

func (e *testEnv) create(t *testing.T, input TicketCreateInput) *domain.Ticket {
	t.Helper()
	if input.Title == "" {
		input.Title = "Printer on fire"
	}
	ticket, err := e.tickets.CreateTicket(context.Background(), requester(), input)
	require.NoError(t, err)
	return ticket
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := e.repos.Tickets.Get(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func requester() domain.Actor { return domain.UserActor(requesterID, domain.UserRoleUser) }
func agent(id string) domain.Actor {
	return domain.UserActor(id, domain.UserRoleAgent)
}
func admin() domain.Actor { return domain.UserActor(adminID, domain.UserRoleAdmin) }

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func priorityPtr(p domain.TicketPriority) *domain.TicketPriority { return &p }
func statusPtr(s domain.TicketStatus) *domain.TicketStatus       { return &s }

func notificationTypes(ns []domain.Notification) []domain.NotificationType {
	out := make([]domain.NotificationType, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Type)
	}
	return out
}

var errInjected = errors.New("injected failure")

// failingApplyRepo fails writes for one ticket and panics on reads of
// another.
type failingApplyRepo struct {
	repository.TicketRepository
	ticketID string
	panicID  string
}

func (r *failingApplyRepo) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	if r.panicID != "" && id == r.panicID {
		panic("corrupt row")
	}
	return r.TicketRepository.Get(ctx, id)
}

func (r *failingApplyRepo) Apply(ctx context.Context, w repository.TicketWrite) error {
	if w.Ticket.ID == r.ticketID {
		return errInjected
	}
	return r.TicketRepository.Apply(ctx, w)
}

type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) TryAcquire(context.Context) (func(), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}
