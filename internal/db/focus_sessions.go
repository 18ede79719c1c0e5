package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/models"
)

// MaxBatchSessions caps how many records one batch import may write.
const MaxBatchSessions = 1000

const focusSessionColumns = `id, user_id, start_time, end_time, focus_minutes, total_minutes,
	block_type, name, notes, mood, category, created_at`

const insertFocusSessionSQL = `
	INSERT INTO focus_sessions (id, user_id, start_time, end_time, focus_minutes, total_minutes,
		block_type, name, notes, mood, category, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	RETURNING created_at
`

func scanFocusSession(row rowScanner) (*models.FocusSession, error) {
	var s models.FocusSession
	var focus, total sql.NullInt64
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StartTime,
		&s.EndTime,
		&focus,
		&total,
		&s.BlockType,
		&s.Name,
		&s.Notes,
		&s.Mood,
		&s.Category,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if focus.Valid {
		v := int(focus.Int64)
		s.FocusMinutes = &v
	}
	if total.Valid {
		v := int(total.Int64)
		s.TotalMinutes = &v
	}
	return &s, nil
}

// newFocusSession builds the stored record for in, with a fresh ID.
func newFocusSession(userID int64, in *models.NewFocusSession) models.FocusSession {
	return models.FocusSession{
		ID:           uuid.New().String(),
		UserID:       userID,
		StartTime:    in.StartTime.UTC(),
		EndTime:      in.EndTime.UTC(),
		FocusMinutes: in.FocusMinutes,
		TotalMinutes: in.TotalMinutes,
		BlockType:    in.BlockType,
		Name:         in.Name,
		Notes:        in.Notes,
		Mood:         in.Mood,
		Category:     in.Category,
	}
}

func focusSessionArgs(s *models.FocusSession) []any {
	return []any{
		s.ID, s.UserID, s.StartTime, s.EndTime, nullableInt(s.FocusMinutes), nullableInt(s.TotalMinutes),
		s.BlockType, s.Name, s.Notes, s.Mood, s.Category,
	}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// AppendFocusSession stores a new focus session for a user.
func (db *DB) AppendFocusSession(ctx context.Context, userID int64, in *models.NewFocusSession) (*models.FocusSession, error) {
	ctx, span := tracer.Start(ctx, "db.append_focus_session",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	s := newFocusSession(userID, in)
	if err := db.conn.QueryRowContext(ctx, insertFocusSessionSQL, focusSessionArgs(&s)...).Scan(&s.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to append focus session: %w", err)
	}

	span.SetAttributes(attribute.String("focus_session.id", s.ID))
	return &s, nil
}

// AppendFocusSessions stores a batch of focus sessions in one transaction.
// Either every record is written or none is.
func (db *DB) AppendFocusSessions(ctx context.Context, userID int64, in []models.NewFocusSession) ([]models.FocusSession, error) {
	ctx, span := tracer.Start(ctx, "db.append_focus_sessions",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("batch.size", len(in)),
		))
	defer span.End()

	if len(in) == 0 {
		return []models.FocusSession{}, nil
	}
	if len(in) > MaxBatchSessions {
		return nil, fmt.Errorf("batch of %d sessions exceeds limit of %d", len(in), MaxBatchSessions)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertFocusSessionSQL)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]models.FocusSession, 0, len(in))
	for i := range in {
		s := newFocusSession(userID, &in[i])
		if err := stmt.QueryRowContext(ctx, focusSessionArgs(&s)...).Scan(&s.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to append focus session %d: %w", i, err)
		}
		out = append(out, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return out, nil
}

// ListFocusSessions returns all of a user's focus sessions, most recent
// start first.
func (db *DB) ListFocusSessions(ctx context.Context, userID int64) ([]models.FocusSession, error) {
	return db.listFocusSessions(ctx, "db.list_focus_sessions", userID, time.Time{})
}

// ListFocusSessionsSince returns a user's focus sessions that started at or
// after since, most recent start first.
func (db *DB) ListFocusSessionsSince(ctx context.Context, userID int64, since time.Time) ([]models.FocusSession, error) {
	return db.listFocusSessions(ctx, "db.list_focus_sessions_since", userID, since)
}

func (db *DB) listFocusSessions(ctx context.Context, spanName string, userID int64, since time.Time) ([]models.FocusSession, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `SELECT ` + focusSessionColumns + ` FROM focus_sessions WHERE user_id = $1`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND start_time >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY start_time DESC, created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list focus sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.FocusSession, 0)
	for rows.Next() {
		s, err := scanFocusSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan focus session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating focus sessions: %w", err)
	}

	span.SetAttributes(attribute.Int("focus_sessions.count", len(sessions)))
	return sessions, nil
}

// DeleteFocusSession removes one of a user's focus sessions.
// Returns ErrFocusSessionNotFound if no such session belongs to the user.
func (db *DB) DeleteFocusSession(ctx context.Context, userID int64, id string) error {
	ctx, span := tracer.Start(ctx, "db.delete_focus_session",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("focus_session.id", id),
		))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return ErrFocusSessionNotFound
	}

	result, err := db.conn.ExecContext(ctx, `DELETE FROM focus_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete focus session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrFocusSessionNotFound
	}
	return nil
}
