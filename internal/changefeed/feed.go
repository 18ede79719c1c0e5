// Package changefeed announces per-user writes so that open streams can
// reload. A Change carries no payload beyond the user and collection: the
// receiver always re-reads from the store.
package changefeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("unwatch/changefeed")

// Collections that produce change notifications.
const (
	CollectionFocusSessions = "focus_sessions"
	CollectionBlocks        = "blocks"
	CollectionAuth          = "auth"
)

// ErrClosed is returned by Publish and Listen after Close.
var ErrClosed = errors.New("change feed closed")

// Change announces that a user's collection was written.
type Change struct {
	UserID     int64  `json:"user_id"`
	Collection string `json:"collection"`
}

// Feed publishes changes and delivers them to listeners.
//
// Listen returns a channel that receives every change published after the
// call returns. The channel is closed when ctx is done or the feed is closed.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Listen(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Kinds accepted by New.
const (
	KindLocal    = "local"
	KindRedis    = "redis"
	KindPostgres = "postgres"
)

// Config selects and configures a Feed implementation.
type Config struct {
	Kind        string
	RedisURL    string
	DatabaseURL string
	// DB publishes notifications for the postgres kind.
	DB *sql.DB
}

// New builds the Feed named by cfg.Kind. An empty kind means local.
func New(ctx context.Context, cfg Config) (Feed, error) {
	switch cfg.Kind {
	case "", KindLocal:
		return NewLocal(), nil
	case KindRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis change feed")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return NewRedis(client), nil
	case KindPostgres:
		if cfg.DB == nil || cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("a database connection is required for the postgres change feed")
		}
		return NewPostgres(cfg.DB, cfg.DatabaseURL), nil
	default:
		return nil, fmt.Errorf("unknown change feed %q", cfg.Kind)
	}
}
