package live

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/logger"
)

var tracer = otel.Tracer("unwatch/live")

// ErrSignedOut is the error of the final snapshot sent when an auth change
// shows the subscriber's session is gone.
var ErrSignedOut = errors.New("signed out")

// Loader reads the current value for a user.
type Loader[T any] func(ctx context.Context, userID int64) (T, error)

// Snapshot is one delivered value. When Err is set, Value holds the empty
// default rather than stale data.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// Watcher produces snapshot streams of one kind of value.
type Watcher[T any] struct {
	name       string
	collection string
	load       Loader[T]
	empty      func() T
	hub        *Hub
}

// NewWatcher creates a watcher that reloads on changes to collection.
// empty builds the value sent when a load fails.
func NewWatcher[T any](hub *Hub, name, collection string, load Loader[T], empty func() T) *Watcher[T] {
	return &Watcher[T]{
		name:       name,
		collection: collection,
		load:       load,
		empty:      empty,
		hub:        hub,
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	authCheck func(ctx context.Context) error
}

// WithAuthCheck runs check after every auth change for the user. If check
// fails the subscription sends a final ErrSignedOut snapshot and ends.
func WithAuthCheck(check func(ctx context.Context) error) SubscribeOption {
	return func(o *subscribeOptions) {
		o.authCheck = check
	}
}

// Subscription is a live stream of snapshots for one user.
type Subscription[T any] struct {
	updates chan Snapshot[T]
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
}

// Updates delivers snapshots. Only the latest undelivered snapshot is kept,
// so a slow reader skips intermediate values. The channel is closed when
// the subscription ends.
func (s *Subscription[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Done is closed once the subscription has stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and waits for it to wind down.
// It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// deliver replaces any undelivered snapshot with snap. Only the run
// goroutine sends, so the send after draining never blocks.
func (s *Subscription[T]) deliver(snap Snapshot[T]) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

// Subscribe starts a stream for userID. The first snapshot is loaded
// immediately; later ones follow changes. The stream ends on Cancel or
// when ctx is done.
func (w *Watcher[T]) Subscribe(ctx context.Context, userID int64, opts ...SubscribeOption) (*Subscription[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		updates: make(chan Snapshot[T], 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	dirty := make(chan struct{}, 1)
	authDirty := make(chan struct{}, 1)
	unregister := w.hub.register(userID, func(c changefeed.Change) {
		switch c.Collection {
		case w.collection:
			signal(dirty)
		case changefeed.CollectionAuth:
			signal(authDirty)
		}
	})

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer unregister()
		defer cancel()

		log := logger.Ctx(ctx)
		log.Debug("subscription started", "watcher", w.name, "user_id", userID)
		defer log.Debug("subscription ended", "watcher", w.name, "user_id", userID)

		snap := w.snapshot(ctx, userID)
		if ctx.Err() != nil {
			return
		}
		sub.deliver(snap)

		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
				snap := w.snapshot(ctx, userID)
				if ctx.Err() != nil {
					return
				}
				sub.deliver(snap)
			case <-authDirty:
				if o.authCheck == nil {
					continue
				}
				if err := o.authCheck(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Info("ending subscription after sign-out", "watcher", w.name, "user_id", userID)
					sub.deliver(Snapshot[T]{Value: w.empty(), Err: ErrSignedOut})
					return
				}
			}
		}
	}()

	return sub, nil
}

// Current loads one snapshot without subscribing.
func (w *Watcher[T]) Current(ctx context.Context, userID int64) Snapshot[T] {
	return w.snapshot(ctx, userID)
}

func (w *Watcher[T]) snapshot(ctx context.Context, userID int64) Snapshot[T] {
	ctx, span := tracer.Start(ctx, "live."+w.name+".load",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	value, err := w.load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			logger.Ctx(ctx).Warn("snapshot load failed", "watcher", w.name, "user_id", userID, "error", err)
		}
		return Snapshot[T]{Value: w.empty(), Err: err}
	}
	return Snapshot[T]{Value: value}
}

// signal marks ch without blocking; repeated marks coalesce.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
