package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/rules"
)

// AssignmentService resolves owners from assignment rules and targets.
type AssignmentService struct {
	rules     repository.AssignmentRuleRepository
	directory repository.DirectoryRepository
	tickets   repository.TicketRepository
	category  rules.CategoryMatcher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	RuleRepo      repository.AssignmentRuleRepository
	DirectoryRepo repository.DirectoryRepository
	TicketRepo    repository.TicketRepository
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	// ExactCategories switches category conditions to exact membership.
	ExactCategories bool
}

// AssignmentDecision names the rule that produced an assignee.
type AssignmentDecision struct {
	UserID   string
	RuleID   string
	RuleName string
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		rules:     deps.RuleRepo,
		directory: deps.DirectoryRepo,
		tickets:   deps.TicketRepo,
		category:  rules.CategoryMatcherFor(deps.ExactCategories),
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// ResolveAssignee returns the user picked by the first matching rule whose
// target resolves, or nil when the ticket should stay unassigned.
func (s *AssignmentService) ResolveAssignee(ctx context.Context, category string, priority domain.TicketPriority, ticketType domain.TicketType) (*string, error) {
	decision, err := s.decide(ctx, category, priority, ticketType)
	if err != nil || decision == nil {
		return nil, err
	}
	return &decision.UserID, nil
}

func (s *AssignmentService) decide(ctx context.Context, category string, priority domain.TicketPriority, ticketType domain.TicketType) (*AssignmentDecision, error) {
	active, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules.MatchingAssignmentRules(active, s.category, category, priority, ticketType) {
		userID, ok, err := s.ResolveTarget(ctx, rule.AssignTo, true)
		if err != nil {
			return nil, err
		}
		if ok {
			s.metrics.RecordAssignment("assigned")
			s.logger.Debug("assignment rule matched",
				zap.String("rule_id", rule.ID),
				zap.String("assignee", userID))
			return &AssignmentDecision{UserID: userID, RuleID: rule.ID, RuleName: rule.Name}, nil
		}
		s.logger.Info("assignment rule target has no resolvable member; trying next rule",
			zap.String("rule_id", rule.ID),
			zap.String("target_kind", string(rule.AssignTo.Kind)))
	}
	s.metrics.RecordAssignment("unassigned")
	s.logger.Info("no assignment rule resolved an assignee",
		zap.String("category", category),
		zap.String("priority", string(priority)),
		zap.String("type", string(ticketType)))
	return nil, nil
}

// ResolveTarget turns an assignment target into a user id. Round robin is
// resolved like a team when allowRoundRobin is false. ok is false when the
// target is absent, an inactive agent, or has nobody to pick.
func (s *AssignmentService) ResolveTarget(ctx context.Context, target domain.AssignTarget, allowRoundRobin bool) (string, bool, error) {
	switch target.Kind {
	case domain.AssignTargetAgent:
		user, err := s.directory.GetUser(ctx, target.AgentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("assignment target agent not found", zap.String("agent_id", target.AgentID))
				return "", false, nil
			}
			return "", false, err
		}
		if !user.Active {
			s.logger.Warn("assignment target agent is inactive", zap.String("agent_id", target.AgentID))
			return "", false, nil
		}
		return user.ID, true, nil
	case domain.AssignTargetTeam:
		return s.resolveTeamHead(ctx, target.TeamID)
	case domain.AssignTargetRoundRobin:
		if !allowRoundRobin {
			return s.resolveTeamHead(ctx, target.TeamID)
		}
		return s.resolveLeastLoaded(ctx, target.TeamID)
	default:
		return "", false, nil
	}
}

func (s *AssignmentService) resolveTeamHead(ctx context.Context, teamID string) (string, bool, error) {
	team, err := s.loadTeam(ctx, teamID)
	if err != nil || team == nil {
		return "", false, err
	}
	userID, ok := teamHead(team)
	return userID, ok, nil
}

func (s *AssignmentService) resolveLeastLoaded(ctx context.Context, teamID string) (string, bool, error) {
	team, err := s.loadTeam(ctx, teamID)
	if err != nil || team == nil || len(team.MemberIDs) == 0 {
		return "", false, err
	}
	counts, err := s.tickets.CountOpenByAssignee(ctx, team.MemberIDs)
	if err != nil {
		return "", false, err
	}
	userID, ok := rules.LeastLoaded(team.MemberIDs, counts)
	if ok {
		s.logger.Debug("round robin selection",
			zap.String("team_id", teamID),
			zap.String("assignee", userID),
			zap.Int("open_tickets", counts[userID]))
	}
	return userID, ok, nil
}

func (s *AssignmentService) loadTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.directory.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("assignment target team not found", zap.String("team_id", teamID))
			return nil, nil
		}
		return nil, err
	}
	return team, nil
}

// teamHead returns the leader, else the first member.
func teamHead(team *domain.Team) (string, bool) {
	if team.LeaderID != nil && *team.LeaderID != "" {
		return *team.LeaderID, true
	}
	if len(team.MemberIDs) > 0 {
		return team.MemberIDs[0], true
	}
	return "", false
}
