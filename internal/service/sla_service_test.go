package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

func TestCreateTicketSetsDeadlineFromPolicy(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)

	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	require.NotNil(t, ticket.SLADeadline)
	assert.Equal(t, t0.Add(240*time.Minute), *ticket.SLADeadline)
}

func TestCreateTicketWithoutPolicyHasNoDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)

	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityLow})

	assert.Nil(t, ticket.SLADeadline)
}

func TestDisabledPolicyIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddSLAPolicy(domain.SLAPolicy{ID: "off", Priority: domain.TicketPriorityHigh, ResolutionTimeMinutes: 10})

	deadline, err := env.tickets.sla.ComputeDeadline(context.Background(), domain.TicketPriorityHigh, t0)
	require.NoError(t, err)
	assert.Nil(t, deadline)
}

func TestPriorityChangeRecomputesDeadlineFromChangeTime(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)
	env.addPolicy(domain.TicketPriorityCritical, 60)
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	env.clock.Advance(10 * time.Minute)
	updated, err := env.tickets.UpdateTicket(context.Background(), agent(agentA), ticket.ID, TicketUpdateInput{
		Priority: priorityPtr(domain.TicketPriorityCritical),
	})
	require.NoError(t, err)

	require.NotNil(t, updated.SLADeadline)
	assert.Equal(t, t0.Add(70*time.Minute), *updated.SLADeadline)

	history, err := env.tickets.ListHistory(context.Background(), agent(agentA), ticket.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.ChangeTypePriority, last.ChangeType)
	assert.Equal(t, domain.TicketPriorityHigh, last.OldValue["priority"])
	assert.Equal(t, domain.TicketPriorityCritical, last.NewValue["priority"])
}

func TestPriorityChangeToUncoveredPriorityClearsDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.addPolicy(domain.TicketPriorityHigh, 240)
	ticket := env.create(t, TicketCreateInput{Priority: domain.TicketPriorityHigh})

	updated, err := env.tickets.UpdateTicket(context.Background(), agent(agentA), ticket.ID, TicketUpdateInput{
		Priority: priorityPtr(domain.TicketPriorityLow),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.SLADeadline)
}
