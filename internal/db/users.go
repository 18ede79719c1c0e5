package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/models"
)

const userColumns = `id, email, name, status, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.get_user_by_id",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.get_user_by_email")
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ListUsersWithSessionsSince returns the IDs of active users who started a
// focus session at or after since, in ascending order.
func (db *DB) ListUsersWithSessionsSince(ctx context.Context, since time.Time) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "db.list_users_with_sessions_since")
	defer span.End()

	query := `
		SELECT DISTINCT u.id
		FROM users u
		JOIN focus_sessions fs ON fs.user_id = u.id
		WHERE u.status = 'active' AND fs.start_time >= $1
		ORDER BY u.id
	`

	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	span.SetAttributes(attribute.Int("users.count", len(ids)))
	return ids, nil
}

// UpdateUserStatus activates or deactivates an account. Inactive users
// cannot sign in and their sessions are refused.
func (db *DB) UpdateUserStatus(ctx context.Context, userID int64, status models.UserStatus) error {
	ctx, span := tracer.Start(ctx, "db.update_user_status",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("user.status", string(status)),
		))
	defer span.End()

	result, err := db.conn.ExecContext(ctx, `UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2`, status, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update user status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
