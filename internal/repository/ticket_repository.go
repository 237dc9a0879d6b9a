package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

const ticketColumns = `id, external_key, title, description, type, status, priority, urgency, category,
               created_by, assigned_to, form_id, sla_deadline, resolved_at, requires_approval,
               approval_status, form_data, state_changed_at, created_at, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, w TicketWrite) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO tickets (` + ticketColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
		t := w.Ticket
		if _, err := tx.Exec(ctx, query,
			t.ID,
			t.ExternalKey,
			t.Title,
			t.Description,
			t.Type,
			t.Status,
			t.Priority,
			t.Urgency,
			t.Category,
			t.CreatedBy,
			t.AssignedTo,
			t.FormID,
			t.SLADeadline,
			t.ResolvedAt,
			t.RequiresApproval,
			t.ApprovalStatus,
			t.FormData,
			t.StateChangedAt,
			t.CreatedAt,
			t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		return writeDependents(ctx, tx, w)
	})
}

func (r *ticketRepository) Apply(ctx context.Context, w TicketWrite) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		const query = `
        UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, urgency=$5, category=$6,
            assigned_to=$7, sla_deadline=$8, resolved_at=$9, requires_approval=$10, approval_status=$11,
            form_data=$12, state_changed_at=$13, updated_at=$14
        WHERE id=$15`
		t := w.Ticket
		cmd, err := tx.Exec(ctx, query,
			t.Title,
			t.Description,
			t.Status,
			t.Priority,
			t.Urgency,
			t.Category,
			t.AssignedTo,
			t.SLADeadline,
			t.ResolvedAt,
			t.RequiresApproval,
			t.ApprovalStatus,
			t.FormData,
			t.StateChangedAt,
			t.UpdatedAt,
			t.ID,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		return writeDependents(ctx, tx, w)
	})
}

func (r *ticketRepository) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return ticket, nil
}

func (r *ticketRepository) ListEscalatable(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
             WHERE status NOT IN ($1,$2,$3) ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
		domain.TicketStatusRejected,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) CountOpenByAssignee(ctx context.Context, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	const query = `
        SELECT assigned_to, COUNT(*) FROM tickets
        WHERE assigned_to = ANY($1) AND status NOT IN ($2,$3)
        GROUP BY assigned_to`
	rows, err := r.pool.Query(ctx, query, userIDs, domain.TicketStatusResolved, domain.TicketStatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID string
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// Purge deletes the ticket; history, comments, approval requests and firing
// records go with it through ON DELETE CASCADE.
func (r *ticketRepository) Purge(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func writeDependents(ctx context.Context, tx pgx.Tx, w TicketWrite) error {
	for _, h := range w.History {
		const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
		if _, err := tx.Exec(ctx, query,
			h.ID,
			h.TicketID,
			h.ChangedByType,
			h.ChangedByID,
			h.ChangeType,
			h.OldValue,
			h.NewValue,
			h.Reason,
			h.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	for _, c := range w.Comments {
		const query = `
        INSERT INTO ticket_comments (id, ticket_id, author_type, author_id, body, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
		if _, err := tx.Exec(ctx, query, c.ID, c.TicketID, c.AuthorType, c.AuthorID, c.Body, c.CreatedAt); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
	}
	for _, a := range w.Approvals {
		const query = `
        INSERT INTO approval_requests (id, ticket_id, stage_id, stage_order, status, approver_id, comments, requested_at, responded_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, approver_id=EXCLUDED.approver_id,
            comments=EXCLUDED.comments, requested_at=EXCLUDED.requested_at, responded_at=EXCLUDED.responded_at`
		if _, err := tx.Exec(ctx, query,
			a.ID,
			a.TicketID,
			a.StageID,
			a.StageOrder,
			a.Status,
			a.ApproverID,
			a.Comments,
			a.RequestedAt,
			a.RespondedAt,
			a.CreatedAt,
		); err != nil {
			return fmt.Errorf("upsert approval request: %w", err)
		}
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.Title,
		&ticket.Description,
		&ticket.Type,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Urgency,
		&ticket.Category,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.FormID,
		&ticket.SLADeadline,
		&ticket.ResolvedAt,
		&ticket.RequiresApproval,
		&ticket.ApprovalStatus,
		&ticket.FormData,
		&ticket.StateChangedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
