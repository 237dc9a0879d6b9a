package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

const accessForm = "form-access"

// addTwoStageForm: stage 1 is a named manager, stage 2 the first admin by role.
func addTwoStageForm(env *testEnv) {
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-1", FormID: accessForm, Order: 1, Name: "Line manager",
		ApproverType: domain.ApproverTypeUser, ApproverID: managerID,
	})
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-2", FormID: accessForm, Order: 2, Name: "Security",
		ApproverType: domain.ApproverTypeRole, ApproverRole: "Manager",
	})
}

func (e *testEnv) approvals(t *testing.T, ticketID string) []domain.ApprovalRequest {
	t.Helper()
	requests, err := e.tickets.ListApprovals(context.Background(), admin(), ticketID)
	require.NoError(t, err)
	return requests
}

func TestTwoStageApproval(t *testing.T) {
	env := newTestEnv(t)
	addTwoStageForm(env)
	env.store.AddAssignmentRule(domain.AssignmentRule{
		ID: "r-all", Priority: 1, IsActive: true,
		AssignTo: domain.AssignTarget{Kind: domain.AssignTargetAgent, AgentID: agentA},
	})
	ctx := context.Background()

	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm), Type: domain.TicketTypeServiceRequest})
	assert.Equal(t, domain.TicketStatusNeedApproval, ticket.Status)
	assert.True(t, ticket.RequiresApproval)
	assert.Equal(t, domain.ApprovalStatusPending, ticket.ApprovalStatus)
	require.NotNil(t, ticket.AssignedTo, "creation-time assignment still applies")

	requests := env.approvals(t, ticket.ID)
	require.Len(t, requests, 2)
	assert.True(t, requests[0].IsCurrent())
	require.NotNil(t, requests[0].ApproverID)
	assert.Equal(t, managerID, *requests[0].ApproverID)
	assert.Nil(t, requests[1].RequestedAt, "later stages stay dormant")
	assert.Nil(t, requests[1].ApproverID)
	assert.Equal(t, []domain.NotificationType{domain.NotificationApprovalRequested}, notificationTypes(env.sent.For(managerID)))

	_, err := env.tickets.RespondToApproval(ctx, domain.UserActor(managerID, domain.UserRoleAdmin), requests[0].ID, domain.DecisionApprove, "ok")
	require.NoError(t, err)

	mid := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusNeedApproval, mid.Status)
	assert.Equal(t, domain.ApprovalStatusPending, mid.ApprovalStatus)
	requests = env.approvals(t, ticket.ID)
	assert.Equal(t, domain.ApprovalRequestApproved, requests[0].Status)
	require.True(t, requests[1].IsCurrent())
	require.NotNil(t, requests[1].ApproverID)
	assert.Equal(t, adminID, *requests[1].ApproverID, "role resolves to the first active admin")

	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[1].ID, domain.DecisionApprove, "")
	require.NoError(t, err)

	final := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusInProgress, final.Status)
	assert.Equal(t, domain.ApprovalStatusApproved, final.ApprovalStatus)
	require.NotNil(t, final.AssignedTo)
	assert.Equal(t, agentA, *final.AssignedTo)

	decided := env.sent.For(requesterID)
	assert.Contains(t, notificationTypes(decided), domain.NotificationApprovalDecided)
}

func TestApprovalAssignsAfterGateWhenUnassigned(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-1", FormID: accessForm, Order: 1, ApproverType: domain.ApproverTypeUser, ApproverID: managerID,
	})
	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})
	assert.Nil(t, ticket.AssignedTo)

	env.store.AddAssignmentRule(domain.AssignmentRule{
		ID: "r-all", Priority: 1, IsActive: true,
		AssignTo: domain.AssignTarget{Kind: domain.AssignTargetAgent, AgentID: agentB},
	})
	requests := env.approvals(t, ticket.ID)
	_, err := env.tickets.RespondToApproval(context.Background(), domain.UserActor(managerID, domain.UserRoleAdmin), requests[0].ID, domain.DecisionApprove, "")
	require.NoError(t, err)

	final := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusInProgress, final.Status)
	require.NotNil(t, final.AssignedTo)
	assert.Equal(t, agentB, *final.AssignedTo)
}

func TestApprovalRejectionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	addTwoStageForm(env)
	ctx := context.Background()
	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})
	requests := env.approvals(t, ticket.ID)

	answered, err := env.tickets.RespondToApproval(ctx, domain.UserActor(managerID, domain.UserRoleAdmin), requests[0].ID, domain.DecisionReject, "not needed")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRequestRejected, answered.Status)
	assert.Equal(t, "not needed", answered.Comments)

	final := env.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusRejected, final.Status)
	assert.Equal(t, domain.ApprovalStatusRejected, final.ApprovalStatus)

	requests = env.approvals(t, ticket.ID)
	assert.Equal(t, domain.ApprovalRequestPending, requests[1].Status)
	assert.Nil(t, requests[1].RequestedAt)

	_, err = env.tickets.UpdateTicket(ctx, agent(agentA), ticket.ID, TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestApprovalGuards(t *testing.T) {
	env := newTestEnv(t)
	addTwoStageForm(env)
	ctx := context.Background()
	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})
	requests := env.approvals(t, ticket.ID)

	_, err := env.tickets.RespondToApproval(ctx, agent(agentA), requests[0].ID, domain.DecisionApprove, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[1].ID, domain.DecisionApprove, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "dormant stage")

	_, err = env.tickets.RespondToApproval(ctx, admin(), "missing", domain.DecisionApprove, "")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[0].ID, "maybe", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[0].ID, domain.DecisionApprove, "")
	require.NoError(t, err, "admins may answer for the approver")
	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[0].ID, domain.DecisionApprove, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "already answered")

	_, err = env.tickets.UpdateTicket(ctx, agent(agentA), ticket.ID, TicketUpdateInput{Status: statusPtr(domain.TicketStatusInProgress)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "status cannot leave need_approval interactively")
}

func TestUnresolvableApproverStalls(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-ghost", FormID: accessForm, Order: 1, Name: "Ghost team",
		ApproverType: domain.ApproverTypeTeam, ApproverID: "ghost",
	})
	ctx := context.Background()
	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})
	assert.Equal(t, domain.TicketStatusNeedApproval, ticket.Status)

	requests := env.approvals(t, ticket.ID)
	require.Len(t, requests, 1)
	assert.True(t, requests[0].IsCurrent())
	assert.Nil(t, requests[0].ApproverID)

	_, err := env.tickets.RespondToApproval(ctx, agent(agentA), requests[0].ID, domain.DecisionApprove, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = env.tickets.RespondToApproval(ctx, admin(), requests[0].ID, domain.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, env.reload(t, ticket.ID).Status)
}

func TestUnresolvableApproverSkipped(t *testing.T) {
	env := newTestEnv(t, withApproverPolicy(config.ApproverPolicySkip))
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-ghost", FormID: accessForm, Order: 1, Name: "Ghost team",
		ApproverType: domain.ApproverTypeTeam, ApproverID: "ghost",
	})
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-2", FormID: accessForm, Order: 2, Name: "Line manager",
		ApproverType: domain.ApproverTypeUser, ApproverID: managerID,
	})
	ctx := context.Background()
	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})

	requests := env.approvals(t, ticket.ID)
	require.Len(t, requests, 2)
	assert.Equal(t, domain.ApprovalRequestApproved, requests[0].Status)
	assert.True(t, requests[1].IsCurrent())

	comments, err := env.tickets.ListComments(ctx, admin(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, domain.ActorTypeSystem, comments[0].AuthorType)
	assert.Contains(t, comments[0].Body, "Ghost team")
}

func TestAllStagesSkippedOpensTicketAtCreation(t *testing.T) {
	env := newTestEnv(t, withApproverPolicy(config.ApproverPolicySkip))
	env.store.AddApprovalStage(domain.ApprovalStage{
		ID: "st-ghost", FormID: accessForm, Order: 1, ApproverType: domain.ApproverTypeUser, ApproverID: "nobody",
	})

	ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})

	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Equal(t, domain.ApprovalStatusApproved, ticket.ApprovalStatus)
	assert.True(t, ticket.RequiresApproval)
}

func TestFormWithoutStagesSkipsApproval(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.create(t, TicketCreateInput{FormID: strPtr("form-plain")})
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, domain.ApprovalStatusNotRequired, ticket.ApprovalStatus)
}

func TestTeamApproverResolution(t *testing.T) {
	cases := []struct {
		name string
		team domain.Team
		want *string
	}{
		{"leader", domain.Team{ID: "t-ops", Name: "Ops", LeaderID: strPtr(managerID), MemberIDs: []string{agentA}}, strPtr(managerID)},
		{"members only", domain.Team{ID: "t-ops", Name: "Ops", MemberIDs: []string{agentB, agentA}}, strPtr(agentB)},
		{"empty", domain.Team{ID: "t-ops", Name: "Ops"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.AddTeam(tc.team)
			env.store.AddApprovalStage(domain.ApprovalStage{
				ID: "st-team", FormID: accessForm, Order: 1, Name: "Ops team",
				ApproverType: domain.ApproverTypeTeam, ApproverID: tc.team.ID,
			})

			ticket := env.create(t, TicketCreateInput{FormID: strPtr(accessForm)})
			assert.Equal(t, domain.TicketStatusNeedApproval, ticket.Status)

			requests := env.approvals(t, ticket.ID)
			require.Len(t, requests, 1)
			assert.True(t, requests[0].IsCurrent())
			if tc.want == nil {
				assert.Nil(t, requests[0].ApproverID)
				return
			}
			require.NotNil(t, requests[0].ApproverID)
			assert.Equal(t, *tc.want, *requests[0].ApproverID)
			assert.Equal(t, []domain.NotificationType{domain.NotificationApprovalRequested}, notificationTypes(env.sent.For(*tc.want)))
		})
	}
}
