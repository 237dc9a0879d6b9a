package memory

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// seedFile mirrors the YAML schema of the memory-mode seed.
type seedFile struct {
	Users []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Email  string `yaml:"email"`
		Role   string `yaml:"role"`
		Active *bool  `yaml:"active"`
	} `yaml:"users"`
	Teams []struct {
		ID      string   `yaml:"id"`
		Name    string   `yaml:"name"`
		Leader  string   `yaml:"leader"`
		Members []string `yaml:"members"`
	} `yaml:"teams"`
	SLAPolicies []struct {
		ID                    string `yaml:"id"`
		Name                  string `yaml:"name"`
		Priority              string `yaml:"priority"`
		ResponseTimeMinutes   int    `yaml:"response_time_minutes"`
		ResolutionTimeMinutes int    `yaml:"resolution_time_minutes"`
		Enabled               *bool  `yaml:"enabled"`
	} `yaml:"sla_policies"`
	AssignmentRules []struct {
		ID         string `yaml:"id"`
		Name       string `yaml:"name"`
		Priority   int    `yaml:"priority"`
		Active     *bool  `yaml:"active"`
		Conditions struct {
			Categories []string `yaml:"categories"`
			Priorities []string `yaml:"priorities"`
			Types      []string `yaml:"types"`
		} `yaml:"conditions"`
		AssignTo seedTarget `yaml:"assign_to"`
	} `yaml:"assignment_rules"`
	EscalationRules []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Priority    int    `yaml:"priority"`
		Active      *bool  `yaml:"active"`
		Conditions  struct {
			Priorities []string `yaml:"priorities"`
			Statuses   []string `yaml:"statuses"`
			OverdueBy  *int     `yaml:"overdue_by"`
		} `yaml:"conditions"`
		Actions struct {
			NotifyUsers    []string   `yaml:"notify_users"`
			NotifyTeams    []string   `yaml:"notify_teams"`
			ReassignTo     seedTarget `yaml:"reassign_to"`
			ChangePriority string     `yaml:"change_priority"`
			AddComment     string     `yaml:"add_comment"`
		} `yaml:"actions"`
	} `yaml:"escalation_rules"`
	ApprovalStages []struct {
		ID           string `yaml:"id"`
		Form         string `yaml:"form"`
		Order        int    `yaml:"order"`
		Name         string `yaml:"name"`
		ApproverType string `yaml:"approver_type"`
		ApproverID   string `yaml:"approver_id"`
		ApproverRole string `yaml:"approver_role"`
	} `yaml:"approval_stages"`
}

type seedTarget struct {
	Kind  string `yaml:"kind"`
	Agent string `yaml:"agent"`
	Team  string `yaml:"team"`
}

func (t seedTarget) target() domain.AssignTarget {
	kind := domain.AssignTargetKind(t.Kind)
	if kind == "" {
		kind = domain.AssignTargetNone
	}
	return domain.AssignTarget{Kind: kind, AgentID: t.Agent, TeamID: t.Team}
}

// LoadSeedFile reads path and loads it into s.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

// LoadSeed decodes a YAML seed document into s. Missing active/enabled flags
// default to true.
func (s *Store) LoadSeed(r io.Reader) error {
	var doc seedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("decode seed: %w", err)
	}
	now := time.Now().UTC()

	for _, u := range doc.Users {
		s.AddUser(domain.User{
			ID:     u.ID,
			Name:   u.Name,
			Email:  u.Email,
			Role:   domain.NormalizeRole(u.Role),
			Active: boolOr(u.Active, true),
		})
	}
	for _, t := range doc.Teams {
		team := domain.Team{ID: t.ID, Name: t.Name, MemberIDs: t.Members}
		if t.Leader != "" {
			leader := t.Leader
			team.LeaderID = &leader
		}
		s.AddTeam(team)
	}
	for _, p := range doc.SLAPolicies {
		priority := domain.TicketPriority(p.Priority)
		if !priority.Valid() {
			return fmt.Errorf("sla policy %s: invalid priority %q", p.ID, p.Priority)
		}
		s.AddSLAPolicy(domain.SLAPolicy{
			ID:                    p.ID,
			Name:                  p.Name,
			Priority:              priority,
			ResponseTimeMinutes:   p.ResponseTimeMinutes,
			ResolutionTimeMinutes: p.ResolutionTimeMinutes,
			Enabled:               boolOr(p.Enabled, true),
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}
	for _, r := range doc.AssignmentRules {
		rule := domain.AssignmentRule{
			ID:       r.ID,
			Name:     r.Name,
			Priority: r.Priority,
			IsActive: boolOr(r.Active, true),
			Conditions: domain.AssignmentConditions{
				Categories: r.Conditions.Categories,
			},
			AssignTo:  r.AssignTo.target(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, p := range r.Conditions.Priorities {
			rule.Conditions.Priorities = append(rule.Conditions.Priorities, domain.TicketPriority(p))
		}
		for _, t := range r.Conditions.Types {
			rule.Conditions.Types = append(rule.Conditions.Types, domain.TicketType(t))
		}
		s.AddAssignmentRule(rule)
	}
	for _, r := range doc.EscalationRules {
		rule := domain.EscalationRule{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			IsActive:    boolOr(r.Active, true),
			Priority:    r.Priority,
			Conditions: domain.EscalationConditions{
				OverdueByMinutes: r.Conditions.OverdueBy,
			},
			Actions: domain.EscalationActions{
				NotifyUsers: r.Actions.NotifyUsers,
				NotifyTeams: r.Actions.NotifyTeams,
				ReassignTo:  r.Actions.ReassignTo.target(),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, p := range r.Conditions.Priorities {
			rule.Conditions.Priorities = append(rule.Conditions.Priorities, domain.TicketPriority(p))
		}
		for _, st := range r.Conditions.Statuses {
			rule.Conditions.Statuses = append(rule.Conditions.Statuses, domain.TicketStatus(st))
		}
		if r.Actions.ChangePriority != "" {
			p := domain.TicketPriority(r.Actions.ChangePriority)
			if !p.Valid() {
				return fmt.Errorf("escalation rule %s: invalid change_priority %q", r.ID, r.Actions.ChangePriority)
			}
			rule.Actions.ChangePriority = &p
		}
		if r.Actions.AddComment != "" {
			comment := r.Actions.AddComment
			rule.Actions.AddComment = &comment
		}
		s.AddEscalationRule(rule)
	}
	for _, st := range doc.ApprovalStages {
		s.AddApprovalStage(domain.ApprovalStage{
			ID:           st.ID,
			FormID:       st.Form,
			Order:        st.Order,
			Name:         st.Name,
			ApproverType: domain.ApproverType(st.ApproverType),
			ApproverID:   st.ApproverID,
			ApproverRole: st.ApproverRole,
		})
	}
	return nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
