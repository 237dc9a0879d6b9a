package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

const approvalRequestColumns = `id, ticket_id, stage_id, stage_order, status, approver_id, comments,
               requested_at, responded_at, created_at`

type approvalRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalRepository builds repository.
func NewApprovalRepository(pool *pgxpool.Pool) ApprovalRepository {
	return &approvalRepository{pool: pool}
}

func (r *approvalRepository) ListStagesByForm(ctx context.Context, formID string) ([]domain.ApprovalStage, error) {
	const query = `
        SELECT id, form_id, stage_order, name, approver_type, approver_id, approver_role
        FROM approval_stages WHERE form_id=$1 ORDER BY stage_order ASC`
	rows, err := r.pool.Query(ctx, query, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ApprovalStage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *stage)
	}
	return result, rows.Err()
}

func (r *approvalRepository) GetStage(ctx context.Context, id string) (*domain.ApprovalStage, error) {
	const query = `
        SELECT id, form_id, stage_order, name, approver_type, approver_id, approver_role
        FROM approval_stages WHERE id=$1`
	stage, err := scanStage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return stage, nil
}

func (r *approvalRepository) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id=$1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return req, nil
}

func (r *approvalRepository) ListRequestsByTicket(ctx context.Context, ticketID string) ([]domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests
             WHERE ticket_id=$1 ORDER BY stage_order ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func scanStage(row pgx.Row) (*domain.ApprovalStage, error) {
	var (
		stage      domain.ApprovalStage
		approverID *string
		role       *string
	)
	if err := row.Scan(
		&stage.ID,
		&stage.FormID,
		&stage.Order,
		&stage.Name,
		&stage.ApproverType,
		&approverID,
		&role,
	); err != nil {
		return nil, err
	}
	if approverID != nil {
		stage.ApproverID = *approverID
	}
	if role != nil {
		stage.ApproverRole = *role
	}
	return &stage, nil
}

func scanRequest(row pgx.Row) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	if err := row.Scan(
		&req.ID,
		&req.TicketID,
		&req.StageID,
		&req.StageOrder,
		&req.Status,
		&req.ApproverID,
		&req.Comments,
		&req.RequestedAt,
		&req.RespondedAt,
		&req.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &req, nil
}
