package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/unwatchhq/unwatch/internal/models"
)

// Password authentication errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
)

// Password authentication constants
const (
	MaxFailedAttempts = 5
	LockoutDuration   = 15 * time.Minute
)

// dummyHash is compared against when the email is unknown so that both
// paths cost one bcrypt comparison.
var dummyHash = []byte("$2a$12$C6UzMDM.H6dfI/f/IKcEeO5x9ZbFf7DYEdQ3rWbq8hGq3E7jQ5Q8S")

// AuthenticatePassword verifies email/password and returns the user if valid.
// Handles account lockout after too many failed attempts.
func (db *DB) AuthenticatePassword(ctx context.Context, email, password string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.authenticate_password",
		trace.WithAttributes(attribute.String("identity.provider", "password")))
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT
			u.id, u.email, u.name, u.status, u.created_at, u.updated_at,
			i.id,
			p.password_hash, p.failed_attempts, p.locked_until
		FROM users u
		JOIN user_identities i ON u.id = i.user_id
		JOIN identity_passwords p ON i.id = p.identity_id
		WHERE i.provider = 'password' AND i.provider_id = $1
		FOR UPDATE OF p
	`

	var user models.User
	var identityID int64
	var passwordHash string
	var failedAttempts int
	var lockedUntil *time.Time

	err = tx.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Name, &user.Status, &user.CreatedAt, &user.UpdatedAt,
		&identityID,
		&passwordHash, &failedAttempts, &lockedUntil,
	)
	if err == sql.ErrNoRows {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query password identity: %w", err)
	}

	if lockedUntil != nil && time.Now().Before(*lockedUntil) {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		newAttempts := failedAttempts + 1
		var newLockedUntil *time.Time
		if newAttempts >= MaxFailedAttempts {
			lockTime := time.Now().Add(LockoutDuration)
			newLockedUntil = &lockTime
			newAttempts = 0
		}

		updateSQL := `UPDATE identity_passwords SET failed_attempts = $1, locked_until = $2, updated_at = NOW() WHERE identity_id = $3`
		if _, err = tx.ExecContext(ctx, updateSQL, newAttempts, newLockedUntil, identityID); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to update failed attempts: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}

		if newLockedUntil != nil {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if user.Status == models.UserStatusInactive {
		return nil, ErrInvalidCredentials
	}

	resetSQL := `UPDATE identity_passwords SET failed_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE identity_id = $1`
	if _, err = tx.ExecContext(ctx, resetSQL, identityID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to reset failed attempts: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return &user, nil
}

// CreatePasswordUser creates a new user with password authentication.
// Creates entries in users, user_identities, and identity_passwords tables.
// Returns ErrUserExists if the email is taken.
func (db *DB) CreatePasswordUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.create_password_user",
		trace.WithAttributes(attribute.String("identity.provider", "password")))
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	checkSQL := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	if err = tx.QueryRowContext(ctx, checkSQL, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	// The local part of the address is the display name until the user
	// sets one.
	name, _, _ := strings.Cut(email, "@")

	insertUserSQL := `
		INSERT INTO users (email, name, status, created_at, updated_at)
		VALUES ($1, $2, 'active', NOW(), NOW())
		RETURNING ` + userColumns
	user, err := scanUser(tx.QueryRowContext(ctx, insertUserSQL, email, name))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	var identityID int64
	insertIdentitySQL := `
		INSERT INTO user_identities (user_id, provider, provider_id, created_at)
		VALUES ($1, 'password', $2, NOW())
		RETURNING id
	`
	if err = tx.QueryRowContext(ctx, insertIdentitySQL, user.ID, email).Scan(&identityID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create password identity: %w", err)
	}

	insertCredsSQL := `
		INSERT INTO identity_passwords (identity_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
	`
	if _, err = tx.ExecContext(ctx, insertCredsSQL, identityID, passwordHash); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create password credentials: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}
