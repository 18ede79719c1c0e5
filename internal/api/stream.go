package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/live"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/stats"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamReadLimit  = 512
)

// Stream message types.
const (
	MessageSnapshot  = "snapshot"
	MessageSignedOut = "signed_out"
)

// CloseSignedOut is the WebSocket close code sent after sign-out.
const CloseSignedOut = 4401

// StreamMessage is one frame of a snapshot stream. Error is set when the
// snapshot could not be loaded, in which case Data is the empty value.
type StreamMessage[T any] struct {
	Type  string `json:"type"`
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// BlockLister reads a user's blocks, newest first.
type BlockLister interface {
	ListBlocks(ctx context.Context, userID int64) ([]models.Block, error)
}

// HandleStatsStream handles GET /api/v1/stats/stream. Each frame carries
// the user's stats recomputed after a change to their focus sessions.
func HandleStatsStream(hub *live.Hub, store FocusSessionLister, authStore auth.Store, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		loc, err := locationFromRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		watcher := live.NewWatcher(hub, "stats", changefeed.CollectionFocusSessions,
			statsLoader(store, loc), stats.Empty)
		serveStream(w, r, upgrader, watcher, authStore)
	}
}

// HandleBlocksStream handles GET /api/v1/blocks/stream.
func HandleBlocksStream(hub *live.Hub, store BlockLister, authStore auth.Store, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	watcher := live.NewWatcher(hub, "blocks", changefeed.CollectionBlocks,
		store.ListBlocks, func() []models.Block { return []models.Block{} })
	return func(w http.ResponseWriter, r *http.Request) {
		serveStream(w, r, upgrader, watcher, authStore)
	}
}

// newUpgrader accepts native clients (no Origin), same-host pages and the
// allowed browser origins.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

func serveStream[T any](w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, watcher *live.Watcher[T], authStore auth.Store) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	token, _ := auth.GetSessionToken(r.Context())
	log := logger.Ctx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		log.Info("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var opts []live.SubscribeOption
	if authStore != nil && token != "" {
		opts = append(opts, live.WithAuthCheck(auth.SessionCheck(authStore, token)))
	}
	sub, err := watcher.Subscribe(ctx, userID, opts...)
	if err != nil {
		closeStream(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}
	defer sub.Cancel()

	// Clients only send control frames; reading is how pongs and closes
	// are noticed.
	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-sub.Updates():
			if !ok {
				closeStream(conn, websocket.CloseGoingAway, "stream ended")
				return
			}
			msg := StreamMessage[T]{Type: MessageSnapshot, Data: snap.Value}
			signedOut := errors.Is(snap.Err, live.ErrSignedOut)
			switch {
			case signedOut:
				msg.Type = MessageSignedOut
				msg.Error = "Signed out"
			case snap.Err != nil:
				msg.Error = "Failed to load data"
			}

			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("stream write failed", "error", err)
				return
			}
			if signedOut {
				closeStream(conn, CloseSignedOut, "signed out")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
