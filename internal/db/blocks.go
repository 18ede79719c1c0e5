package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/models"
)

const blockColumns = `id, user_id, title, description, start_time, end_time, apps, created_at`

const insertBlockSQL = `
	INSERT INTO blocks (id, user_id, title, description, start_time, end_time, apps, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	RETURNING created_at
`

func scanBlock(row rowScanner) (*models.Block, error) {
	var b models.Block
	var apps pq.StringArray
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Title,
		&b.Description,
		&b.StartTime,
		&b.EndTime,
		&apps,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Apps = []string(apps)
	if b.Apps == nil {
		b.Apps = []string{}
	}
	return &b, nil
}

func newBlock(userID int64, in *models.NewBlock) models.Block {
	apps := in.Apps
	if apps == nil {
		apps = []string{}
	}
	return models.Block{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Apps:        apps,
	}
}

func blockArgs(b *models.Block) []any {
	return []any{b.ID, b.UserID, b.Title, b.Description, b.StartTime, b.EndTime, pq.Array(b.Apps)}
}

// CreateBlock stores a new focus block for a user.
func (db *DB) CreateBlock(ctx context.Context, userID int64, in *models.NewBlock) (*models.Block, error) {
	ctx, span := tracer.Start(ctx, "db.create_block",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	b := newBlock(userID, in)
	if err := db.conn.QueryRowContext(ctx, insertBlockSQL, blockArgs(&b)...).Scan(&b.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create block: %w", err)
	}

	span.SetAttributes(attribute.String("block.id", b.ID))
	return &b, nil
}

// CreateBlockWithSession stores a block together with the focus session it
// starts, in one transaction.
func (db *DB) CreateBlockWithSession(ctx context.Context, userID int64, block *models.NewBlock, session *models.NewFocusSession) (*models.Block, *models.FocusSession, error) {
	ctx, span := tracer.Start(ctx, "db.create_block_with_session",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b := newBlock(userID, block)
	if err := tx.QueryRowContext(ctx, insertBlockSQL, blockArgs(&b)...).Scan(&b.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("failed to create block: %w", err)
	}

	s := newFocusSession(userID, session)
	if err := tx.QueryRowContext(ctx, insertFocusSessionSQL, focusSessionArgs(&s)...).Scan(&s.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("failed to append focus session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}

	span.SetAttributes(
		attribute.String("block.id", b.ID),
		attribute.String("focus_session.id", s.ID),
	)
	return &b, &s, nil
}

// ListBlocks returns a user's blocks, newest first.
func (db *DB) ListBlocks(ctx context.Context, userID int64) ([]models.Block, error) {
	ctx, span := tracer.Start(ctx, "db.list_blocks",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `SELECT ` + blockColumns + ` FROM blocks WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]models.Block, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	span.SetAttributes(attribute.Int("blocks.count", len(blocks)))
	return blocks, nil
}

// DeleteBlock removes one of a user's blocks.
// Returns ErrBlockNotFound if no such block belongs to the user.
func (db *DB) DeleteBlock(ctx context.Context, userID int64, id string) error {
	ctx, span := tracer.Start(ctx, "db.delete_block",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("block.id", id),
		))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return ErrBlockNotFound
	}

	result, err := db.conn.ExecContext(ctx, `DELETE FROM blocks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete block: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBlockNotFound
	}
	return nil
}
