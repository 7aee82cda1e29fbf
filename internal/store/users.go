package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/fieldexport/internal/projection"
	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// Users answers user and role lookups.
type Users struct {
	db DBTX
}

// EmailByID implements projection.UserLookup.
func (r *Users) EmailByID(ctx context.Context, id int64) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, id).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", projection.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %d: %w", id, err)
	}
	return email, nil
}

// RoleOf implements unique.RoleLookup.
func (r *Users) RoleOf(ctx context.Context, projectID, userID int64) (unique.Role, error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM project_roles WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", unique.ErrNoRole
	}
	if err != nil {
		return "", fmt.Errorf("lookup role: %w", err)
	}
	return unique.Role(role), nil
}
