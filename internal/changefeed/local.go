package changefeed

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// listenerBuffer is how many undelivered changes a listener may hold before
// further changes to it are dropped.
const listenerBuffer = 64

// Local fans changes out to listeners in the same process.
type Local struct {
	mu        sync.Mutex
	listeners map[int]chan Change
	nextID    int
	closed    bool
}

// NewLocal creates an in-process feed.
func NewLocal() *Local {
	return &Local{listeners: make(map[int]chan Change)}
}

// Publish delivers c to every current listener without blocking.
func (l *Local) Publish(ctx context.Context, c Change) error {
	_, span := tracer.Start(ctx, "changefeed.local.publish",
		trace.WithAttributes(
			attribute.Int64("user.id", c.UserID),
			attribute.String("collection", c.Collection),
		))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	for id, ch := range l.listeners {
		select {
		case ch <- c:
		default:
			logger.Warn("change feed listener full, dropping change",
				"listener", id, "user_id", c.UserID, "collection", c.Collection)
		}
	}
	return nil
}

// Listen registers a listener until ctx is done.
func (l *Local) Listen(ctx context.Context) (<-chan Change, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	id := l.nextID
	l.nextID++
	ch := make(chan Change, listenerBuffer)
	l.listeners[id] = ch
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.remove(id)
	}()
	return ch, nil
}

func (l *Local) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.listeners[id]; ok {
		delete(l.listeners, id)
		close(ch)
	}
}

// Close closes every listener channel. Later calls are no-ops.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for id, ch := range l.listeners {
		delete(l.listeners, id)
		close(ch)
	}
	return nil
}
