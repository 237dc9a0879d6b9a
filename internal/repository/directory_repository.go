package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

type directoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository builds the read-only directory adapter.
func NewDirectoryRepository(pool *pgxpool.Pool) DirectoryRepository {
	return &directoryRepository{pool: pool}
}

func (r *directoryRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, name, email, role, is_active FROM users WHERE id=$1`
	var (
		user domain.User
		role string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.Name, &user.Email, &role, &user.Active); err != nil {
		return nil, mapNoRows(err)
	}
	user.Role = domain.NormalizeRole(role)
	return &user, nil
}

// FindFirstUserByRole returns the earliest created active user holding role.
func (r *directoryRepository) FindFirstUserByRole(ctx context.Context, role domain.UserRole) (*domain.User, error) {
	const query = `
        SELECT id, name, email, role, is_active FROM users
        WHERE role=$1 AND is_active = TRUE
        ORDER BY created_at ASC, id ASC LIMIT 1`
	var (
		user domain.User
		raw  string
	)
	if err := r.pool.QueryRow(ctx, query, string(role)).Scan(&user.ID, &user.Name, &user.Email, &raw, &user.Active); err != nil {
		return nil, mapNoRows(err)
	}
	user.Role = domain.NormalizeRole(raw)
	return &user, nil
}

func (r *directoryRepository) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	const query = `SELECT id, name, leader_id FROM teams WHERE id=$1`
	var team domain.Team
	if err := r.pool.QueryRow(ctx, query, id).Scan(&team.ID, &team.Name, &team.LeaderID); err != nil {
		return nil, mapNoRows(err)
	}

	const members = `SELECT user_id FROM team_members WHERE team_id=$1 ORDER BY position ASC, user_id ASC`
	rows, err := r.pool.Query(ctx, members, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		team.MemberIDs = append(team.MemberIDs, userID)
	}
	return &team, rows.Err()
}
