package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

// MaxFocusSessionBodySize bounds the body of a single session write.
const MaxFocusSessionBodySize = 64 * 1024

// FocusSessionStore is the persistence behind the focus session endpoints.
// *db.DB implements it.
type FocusSessionStore interface {
	AppendFocusSession(ctx context.Context, userID int64, in *models.NewFocusSession) (*models.FocusSession, error)
	AppendFocusSessions(ctx context.Context, userID int64, in []models.NewFocusSession) ([]models.FocusSession, error)
	ListFocusSessions(ctx context.Context, userID int64) ([]models.FocusSession, error)
	DeleteFocusSession(ctx context.Context, userID int64, id string) error
}

type importRequest struct {
	Sessions []models.NewFocusSession `json:"sessions"`
}

type importResponse struct {
	Imported int                   `json:"imported"`
	Sessions []models.FocusSession `json:"sessions"`
}

// HandleListFocusSessions handles GET /api/v1/focus-sessions
func HandleListFocusSessions(store FocusSessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		sessions, err := store.ListFocusSessions(r.Context(), userID)
		if err != nil {
			logger.Ctx(r.Context()).Error("Failed to list focus sessions", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load focus sessions")
			return
		}
		respondJSON(w, http.StatusOK, sessions)
	}
}

// HandleCreateFocusSession handles POST /api/v1/focus-sessions
func HandleCreateFocusSession(store FocusSessionStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxFocusSessionBodySize)
		var in models.NewFocusSession
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		validation.NormalizeFocusSession(&in)
		if err := validation.ValidateFocusSession(&in); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		session, err := store.AppendFocusSession(ctx, userID, &in)
		if err != nil {
			logger.Ctx(ctx).Error("Failed to save focus session", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save focus session")
			return
		}

		publishChange(ctx, pub, userID, changefeed.CollectionFocusSessions)
		respondJSON(w, http.StatusCreated, session)
	}
}

// HandleImportFocusSessions handles POST /api/v1/focus-sessions/batch.
// Sessions recorded offline are uploaded together; the batch is stored
// atomically and rejected whole if any record is invalid.
func HandleImportFocusSessions(store FocusSessionStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Ctx(ctx)
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxDecodedBatchBytes)
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if len(req.Sessions) == 0 {
			respondError(w, http.StatusBadRequest, "sessions must not be empty")
			return
		}
		if len(req.Sessions) > db.MaxBatchSessions {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("at most %d sessions may be imported at once", db.MaxBatchSessions))
			return
		}
		for i := range req.Sessions {
			validation.NormalizeFocusSession(&req.Sessions[i])
			if err := validation.ValidateFocusSession(&req.Sessions[i]); err != nil {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("sessions[%d]: %s", i, err))
				return
			}
		}

		stored, err := store.AppendFocusSessions(ctx, userID, req.Sessions)
		if err != nil {
			log.Error("Failed to import focus sessions", "error", err, "count", len(req.Sessions))
			respondError(w, http.StatusInternalServerError, "Failed to import focus sessions")
			return
		}

		log.Info("Imported focus sessions", "count", len(stored))
		publishChange(ctx, pub, userID, changefeed.CollectionFocusSessions)
		respondJSON(w, http.StatusCreated, importResponse{Imported: len(stored), Sessions: stored})
	}
}

// HandleDeleteFocusSession handles DELETE /api/v1/focus-sessions/{id}
func HandleDeleteFocusSession(store FocusSessionStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if err := store.DeleteFocusSession(ctx, userID, id); err != nil {
			if errors.Is(err, db.ErrFocusSessionNotFound) {
				respondError(w, http.StatusNotFound, "Focus session not found")
				return
			}
			logger.Ctx(ctx).Error("Failed to delete focus session", "error", err, "focus_session_id", id)
			respondError(w, http.StatusInternalServerError, "Failed to delete focus session")
			return
		}

		publishChange(ctx, pub, userID, changefeed.CollectionFocusSessions)
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireUserID reads the user set by auth.RequireSession, answering 401
// when it is missing.
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}

// publishChange announces a write so open streams reload. A failed publish
// only delays stream updates, so it is logged and not returned.
func publishChange(ctx context.Context, pub auth.Publisher, userID int64, collection string) {
	if pub == nil {
		return
	}
	change := changefeed.Change{UserID: userID, Collection: collection}
	if err := pub.Publish(ctx, change); err != nil {
		logger.Ctx(ctx).Warn("Failed to publish change", "error", err, "collection", collection)
	}
}
