// Package live turns the change feed into per-user snapshot streams.
//
// A Hub holds the single feed listener of a process and routes each change
// to the subscriptions of that user. A Watcher loads a value for a user and
// reloads it whenever the Hub reports a change to one of its collections.
package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/logger"
)

// Hub routes feed changes to registered handlers by user.
type Hub struct {
	feed changefeed.Feed

	mu       sync.Mutex
	handlers map[int64]map[int]func(changefeed.Change)
	nextID   int
	done     chan struct{}
}

// NewHub creates a hub over feed. Call Start before relying on updates.
func NewHub(feed changefeed.Feed) *Hub {
	return &Hub{
		feed:     feed,
		handlers: make(map[int64]map[int]func(changefeed.Change)),
		done:     make(chan struct{}),
	}
}

// Feed returns the feed the hub listens to.
func (h *Hub) Feed() changefeed.Feed {
	return h.feed
}

// Start begins listening. It returns once the listener is registered, so
// every change published afterwards reaches the hub. Dispatch stops when
// ctx is done or the feed closes.
func (h *Hub) Start(ctx context.Context) error {
	changes, err := h.feed.Listen(ctx)
	if err != nil {
		return fmt.Errorf("failed to listen for changes: %w", err)
	}
	go func() {
		defer close(h.done)
		for c := range changes {
			h.dispatch(c)
		}
		logger.Info("change listener stopped")
	}()
	return nil
}

// Done is closed when dispatch has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Subscribers returns the number of registered handlers for a user.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[userID])
}

// register adds fn for userID and returns its removal func.
// fn runs on the dispatch goroutine and must not block.
func (h *Hub) register(userID int64, fn func(changefeed.Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	byUser, ok := h.handlers[userID]
	if !ok {
		byUser = make(map[int]func(changefeed.Change))
		h.handlers[userID] = byUser
	}
	byUser[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[userID], id)
		if len(h.handlers[userID]) == 0 {
			delete(h.handlers, userID)
		}
	}
}

func (h *Hub) dispatch(c changefeed.Change) {
	h.mu.Lock()
	fns := make([]func(changefeed.Change), 0, len(h.handlers[c.UserID]))
	for _, fn := range h.handlers[c.UserID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
