package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"

	"github.com/unwatchhq/unwatch/internal/logger"
)

var tracer = otel.Tracer("unwatch/db")

// DB wraps a PostgreSQL database connection
type DB struct {
	conn *sql.DB
}

// Connect establishes a connection to PostgreSQL
func Connect(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Mobile clients hold long-lived streams, but each snapshot only borrows
	// a connection for one query.
	conn.SetMaxOpenConns(100)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(20 * time.Minute)

	return &DB{conn: conn}, nil
}

// Delays between ConnectWithRetry attempts.
const (
	initialRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// ConnectWithRetry calls Connect until it succeeds or ctx is done, doubling
// the delay between attempts up to maxRetryDelay. The returned error wraps
// both ctx.Err() and the last connection error.
func ConnectWithRetry(ctx context.Context, dsn string) (*DB, error) {
	delay := initialRetryDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gave up connecting to database: %w", err)
		}
		database, err := Connect(dsn)
		if err == nil {
			return database, nil
		}
		logger.Warn("database not ready, retrying", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up connecting to database after %d attempts: %w: %w", attempt, ctx.Err(), err)
		case <-time.After(delay):
		}
		delay = nextRetryDelay(delay)
	}
}

func nextRetryDelay(d time.Duration) time.Duration {
	return min(d*2, maxRetryDelay)
}

// New wraps an already opened connection.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Exec executes a query without returning rows (for testing/migrations)
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row (for testing)
func (db *DB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Conn returns the underlying *sql.DB connection.
// Used for migrations and by the postgres change feed.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
