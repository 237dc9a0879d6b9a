// Package memory provides repository implementations backed by process memory.
// It is used when no POSTGRES_DSN is configured and by the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

// Store owns every table. A single mutex keeps ticket writes atomic across
// the ticket row and its dependents.
type Store struct {
	mu sync.RWMutex

	tickets     map[string]*domain.Ticket
	ticketOrder []string
	history     map[string][]domain.TicketHistory
	comments    map[string][]domain.TicketComment
	requests    map[string]*domain.ApprovalRequest

	users     map[string]domain.User
	userOrder []string
	teams     map[string]domain.Team
	policies  []domain.SLAPolicy
	assign    []domain.AssignmentRule
	escalate  []domain.EscalationRule
	stages    map[string]domain.ApprovalStage
	firings   map[firingKey]domain.EscalationFiring
}

type firingKey struct {
	rule, ticket, breach string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets:  map[string]*domain.Ticket{},
		history:  map[string][]domain.TicketHistory{},
		comments: map[string][]domain.TicketComment{},
		requests: map[string]*domain.ApprovalRequest{},
		users:    map[string]domain.User{},
		teams:    map[string]domain.Team{},
		stages:   map[string]domain.ApprovalStage{},
		firings:  map[firingKey]domain.EscalationFiring{},
	}
}

// Repositories groups the store's repository views.
type Repositories struct {
	Tickets         repository.TicketRepository
	History         repository.TicketHistoryRepository
	Comments        repository.TicketCommentRepository
	SLAPolicies     repository.SLAPolicyRepository
	AssignmentRules repository.AssignmentRuleRepository
	EscalationRules repository.EscalationRuleRepository
	Approvals       repository.ApprovalRepository
	Directory       repository.DirectoryRepository
	Firings         repository.EscalationFiringRepository
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Tickets:         &ticketRepository{s},
		History:         &historyRepository{s},
		Comments:        &commentRepository{s},
		SLAPolicies:     &slaPolicyRepository{s},
		AssignmentRules: &assignmentRuleRepository{s},
		EscalationRules: &escalationRuleRepository{s},
		Approvals:       &approvalRepository{s},
		Directory:       &directoryRepository{s},
		Firings:         &firingRepository{s},
	}
}

// AddUser inserts or replaces a directory user.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
}

// AddTeam inserts or replaces a team.
func (s *Store) AddTeam(t domain.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.MemberIDs = append([]string(nil), t.MemberIDs...)
	s.teams[t.ID] = t
}

// AddSLAPolicy appends a policy.
func (s *Store) AddSLAPolicy(p domain.SLAPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append(s.policies, p)
}

// AddAssignmentRule appends a rule.
func (s *Store) AddAssignmentRule(r domain.AssignmentRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign = append(s.assign, r)
}

// AddEscalationRule appends a rule.
func (s *Store) AddEscalationRule(r domain.EscalationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalate = append(s.escalate, r)
}

// AddApprovalStage inserts or replaces a stage.
func (s *Store) AddApprovalStage(st domain.ApprovalStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[st.ID] = st
}

type ticketRepository struct{ s *Store }

func (r *ticketRepository) Create(_ context.Context, w repository.TicketWrite) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[w.Ticket.ID] = w.Ticket.Clone()
	s.ticketOrder = append(s.ticketOrder, w.Ticket.ID)
	s.writeDependents(w)
	return nil
}

func (r *ticketRepository) Apply(_ context.Context, w repository.TicketWrite) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[w.Ticket.ID]; !ok {
		return repository.ErrNotFound
	}
	s.tickets[w.Ticket.ID] = w.Ticket.Clone()
	s.writeDependents(w)
	return nil
}

func (s *Store) writeDependents(w repository.TicketWrite) {
	id := w.Ticket.ID
	s.history[id] = append(s.history[id], w.History...)
	s.comments[id] = append(s.comments[id], w.Comments...)
	for _, req := range w.Approvals {
		cp := req
		s.requests[req.ID] = &cp
	}
}

func (r *ticketRepository) Get(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tickets[strings.TrimSpace(id)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *ticketRepository) ListEscalatable(_ context.Context) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Ticket
	for _, id := range r.s.ticketOrder {
		t, ok := r.s.tickets[id]
		if !ok || !t.Status.Escalatable() {
			continue
		}
		out = append(out, *t.Clone())
	}
	return out, nil
}

func (r *ticketRepository) CountOpenByAssignee(_ context.Context, userIDs []string) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	counts := make(map[string]int, len(userIDs))
	for _, t := range r.s.tickets {
		if t.AssignedTo == nil || !t.Status.CountsAsOpenLoad() {
			continue
		}
		if _, ok := wanted[*t.AssignedTo]; ok {
			counts[*t.AssignedTo]++
		}
	}
	return counts, nil
}

func (r *ticketRepository) Purge(_ context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tickets, id)
	delete(s.history, id)
	delete(s.comments, id)
	for reqID, req := range s.requests {
		if req.TicketID == id {
			delete(s.requests, reqID)
		}
	}
	for key := range s.firings {
		if key.ticket == id {
			delete(s.firings, key)
		}
	}
	order := s.ticketOrder[:0]
	for _, tid := range s.ticketOrder {
		if tid != id {
			order = append(order, tid)
		}
	}
	s.ticketOrder = order
	return nil
}

type historyRepository struct{ s *Store }

func (r *historyRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.TicketHistory(nil), r.s.history[ticketID]...), nil
}

type commentRepository struct{ s *Store }

func (r *commentRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketComment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.TicketComment(nil), r.s.comments[ticketID]...), nil
}

type slaPolicyRepository struct{ s *Store }

func (r *slaPolicyRepository) ListEnabled(_ context.Context) ([]domain.SLAPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.SLAPolicy
	for _, p := range r.s.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

type assignmentRuleRepository struct{ s *Store }

func (r *assignmentRuleRepository) ListActive(_ context.Context) ([]domain.AssignmentRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.AssignmentRule
	for _, rule := range r.s.assign {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

type escalationRuleRepository struct{ s *Store }

func (r *escalationRuleRepository) ListActive(_ context.Context) ([]domain.EscalationRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.EscalationRule
	for _, rule := range r.s.escalate {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

type approvalRepository struct{ s *Store }

func (r *approvalRepository) ListStagesByForm(_ context.Context, formID string) ([]domain.ApprovalStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ApprovalStage
	for _, st := range r.s.stages {
		if st.FormID == formID {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *approvalRepository) GetStage(_ context.Context, id string) (*domain.ApprovalStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.stages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (r *approvalRepository) GetRequest(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *approvalRepository) ListRequestsByTicket(_ context.Context, ticketID string) ([]domain.ApprovalRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ApprovalRequest
	for _, req := range r.s.requests {
		if req.TicketID == ticketID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageOrder < out[j].StageOrder })
	return out, nil
}

type directoryRepository struct{ s *Store }

func (r *directoryRepository) GetUser(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *directoryRepository) FindFirstUserByRole(_ context.Context, role domain.UserRole) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, id := range r.s.userOrder {
		u := r.s.users[id]
		if u.Active && u.Role == role {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *directoryRepository) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t.MemberIDs = append([]string(nil), t.MemberIDs...)
	return &t, nil
}

type firingRepository struct{ s *Store }

func (r *firingRepository) HasFired(_ context.Context, ruleID, ticketID, breachKey string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.firings[firingKey{ruleID, ticketID, breachKey}]
	return ok, nil
}

func (r *firingRepository) Record(_ context.Context, f domain.EscalationFiring) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.firings[firingKey{f.RuleID, f.TicketID, f.BreachKey}] = f
	return nil
}
