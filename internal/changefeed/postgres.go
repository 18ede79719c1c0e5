package changefeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// PostgresChannel is the LISTEN/NOTIFY channel changes are sent on.
const PostgresChannel = "unwatch_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	// pingInterval checks a quiet listener connection is still alive.
	pingInterval = 90 * time.Second
)

// Postgres shares changes between server instances with LISTEN/NOTIFY, so
// deployments that already run Postgres need nothing else.
type Postgres struct {
	db  *sql.DB
	dsn string

	mu        sync.Mutex
	closed    bool
	listeners map[*pq.Listener]struct{}
}

// NewPostgres publishes through db and opens listener connections to dsn.
// The caller keeps ownership of db.
func NewPostgres(db *sql.DB, dsn string) *Postgres {
	return &Postgres{
		db:        db,
		dsn:       dsn,
		listeners: make(map[*pq.Listener]struct{}),
	}
}

// Publish sends c with pg_notify.
func (p *Postgres) Publish(ctx context.Context, c Change) error {
	ctx, span := tracer.Start(ctx, "changefeed.postgres.publish",
		trace.WithAttributes(
			attribute.Int64("user.id", c.UserID),
			attribute.String("collection", c.Collection),
		))
	defer span.End()

	if p.isClosed() {
		return ErrClosed
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, string(payload)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to notify change: %w", err)
	}
	return nil
}

// Listen opens a dedicated LISTEN connection for the lifetime of ctx.
func (p *Postgres) Listen(ctx context.Context) (<-chan Change, error) {
	listener := pq.NewListener(p.dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("change feed listener event", "event", int(ev), "error", err)
			}
		})
	if err := listener.Listen(PostgresChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", PostgresChannel, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		listener.Close()
		return nil, ErrClosed
	}
	p.listeners[listener] = struct{}{}
	p.mu.Unlock()

	out := make(chan Change, listenerBuffer)
	go func() {
		defer close(out)
		defer p.release(listener)

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect; notifications sent while
				// disconnected are lost.
				if n == nil {
					continue
				}
				var c Change
				if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
					logger.Warn("ignoring malformed change", "channel", n.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					logger.Warn("change feed listener ping failed", "error", err)
				}
			}
		}
	}()
	return out, nil
}

func (p *Postgres) release(l *pq.Listener) {
	p.mu.Lock()
	_, ok := p.listeners[l]
	delete(p.listeners, l)
	p.mu.Unlock()
	if ok {
		l.Close()
	}
}

// Close closes every open listener. It does not close the publishing db.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	open := make([]*pq.Listener, 0, len(p.listeners))
	for l := range p.listeners {
		open = append(open, l)
		delete(p.listeners, l)
	}
	p.mu.Unlock()

	for _, l := range open {
		l.Close()
	}
	return nil
}

func (p *Postgres) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
