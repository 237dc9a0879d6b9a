package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

type escalationFiringRepository struct {
	pool *pgxpool.Pool
}

// NewEscalationFiringRepository builds repository.
func NewEscalationFiringRepository(pool *pgxpool.Pool) EscalationFiringRepository {
	return &escalationFiringRepository{pool: pool}
}

func (r *escalationFiringRepository) HasFired(ctx context.Context, ruleID, ticketID, breachKey string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM escalation_firings WHERE rule_id=$1 AND ticket_id=$2 AND breach_key=$3
        )`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, ruleID, ticketID, breachKey).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *escalationFiringRepository) Record(ctx context.Context, firing domain.EscalationFiring) error {
	const query = `
        INSERT INTO escalation_firings (rule_id, ticket_id, breach_key, fired_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (rule_id, ticket_id, breach_key) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, firing.RuleID, firing.TicketID, firing.BreachKey, firing.FiredAt)
	return err
}
