package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// RedisChannel is the pub/sub channel changes are published on.
const RedisChannel = "unwatch:changes"

// Redis shares changes between server instances over Redis pub/sub.
type Redis struct {
	client *redis.Client

	mu     sync.Mutex
	closed bool
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends c to every subscribed instance.
func (r *Redis) Publish(ctx context.Context, c Change) error {
	ctx, span := tracer.Start(ctx, "changefeed.redis.publish",
		trace.WithAttributes(
			attribute.Int64("user.id", c.UserID),
			attribute.String("collection", c.Collection),
		))
	defer span.End()

	if r.isClosed() {
		return ErrClosed
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := r.client.Publish(ctx, RedisChannel, payload).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Listen subscribes to the channel. The subscription is confirmed before
// Listen returns, so changes published afterwards are not missed.
func (r *Redis) Listen(ctx context.Context) (<-chan Change, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	pubsub := r.client.Subscribe(ctx, RedisChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", RedisChannel, err)
	}

	out := make(chan Change, listenerBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					logger.Warn("ignoring malformed change", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying client, which ends every subscription.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
