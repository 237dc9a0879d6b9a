package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

const sampleSeed = `
users:
  - {id: u-admin, name: Ada, role: manager}
  - {id: u-a, name: Alice, role: technician}
  - {id: u-b, name: Bob, role: agent, active: false}
teams:
  - {id: t-net, name: Network, leader: u-a, members: [u-a, u-b]}
sla_policies:
  - {id: p-high, name: High, priority: high, response_time_minutes: 60, resolution_time_minutes: 240}
  - {id: p-low, name: Low, priority: low, resolution_time_minutes: 2880, enabled: false}
assignment_rules:
  - id: r-net
    name: network
    priority: 1
    conditions: {categories: [Network]}
    assign_to: {kind: team, team: t-net}
escalation_rules:
  - id: e-overdue
    name: overdue high
    priority: 1
    conditions: {priorities: [high], overdue_by: 30}
    actions:
      notify_teams: [t-net]
      change_priority: critical
      add_comment: escalated
approval_stages:
  - {id: s2, form: f-access, order: 2, name: security, approver_type: role, approver_role: administrator}
  - {id: s1, form: f-access, order: 1, name: lead, approver_type: team, approver_id: t-net}
`

func TestLoadSeed(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.LoadSeed(strings.NewReader(sampleSeed)))
	repos := store.Repositories()
	ctx := context.Background()

	admin, err := repos.Directory.FindFirstUserByRole(ctx, domain.UserRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "u-admin", admin.ID)

	bob, err := repos.Directory.GetUser(ctx, "u-b")
	require.NoError(t, err)
	assert.False(t, bob.Active)

	team, err := repos.Directory.GetTeam(ctx, "t-net")
	require.NoError(t, err)
	require.NotNil(t, team.LeaderID)
	assert.Equal(t, "u-a", *team.LeaderID)
	assert.Equal(t, []string{"u-a", "u-b"}, team.MemberIDs)

	policies, err := repos.SLAPolicies.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, 240, policies[0].ResolutionTimeMinutes)

	rules, err := repos.AssignmentRules.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.AssignTargetTeam, rules[0].AssignTo.Kind)

	esc, err := repos.EscalationRules.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, esc, 1)
	require.NotNil(t, esc[0].Conditions.OverdueByMinutes)
	assert.Equal(t, 30, *esc[0].Conditions.OverdueByMinutes)
	require.NotNil(t, esc[0].Actions.ChangePriority)
	assert.Equal(t, domain.TicketPriorityCritical, *esc[0].Actions.ChangePriority)
	assert.True(t, esc[0].Actions.ReassignTo.IsNone())

	stages, err := repos.Approvals.ListStagesByForm(ctx, "f-access")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "s1", stages[0].ID)
	assert.Equal(t, "s2", stages[1].ID)
}

func TestLoadSeedRejectsUnknownPriority(t *testing.T) {
	store := NewStore()
	err := store.LoadSeed(strings.NewReader("sla_policies:\n  - {id: x, priority: urgent}\n"))
	require.Error(t, err)
}
