package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/blocks"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

// MaxBlockBodySize bounds the body of a block write.
const MaxBlockBodySize = 32 * 1024

// BlockStore is the persistence behind the block endpoints. *db.DB
// implements it.
type BlockStore interface {
	CreateBlock(ctx context.Context, userID int64, in *models.NewBlock) (*models.Block, error)
	CreateBlockWithSession(ctx context.Context, userID int64, block *models.NewBlock, session *models.NewFocusSession) (*models.Block, *models.FocusSession, error)
	ListBlocks(ctx context.Context, userID int64) ([]models.Block, error)
	DeleteBlock(ctx context.Context, userID int64, id string) error
}

// plannedBlockResponse is returned when a block is created together with
// its focus session.
type plannedBlockResponse struct {
	Block   *models.Block        `json:"block"`
	Session *models.FocusSession `json:"session"`
}

// now is replaced in tests.
var now = time.Now

// HandleListBlocks handles GET /api/v1/blocks
func HandleListBlocks(store BlockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		list, err := store.ListBlocks(r.Context(), userID)
		if err != nil {
			logger.Ctx(r.Context()).Error("Failed to list blocks", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load blocks")
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// HandleCreateBlock handles POST /api/v1/blocks
func HandleCreateBlock(store BlockStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxBlockBodySize)
		var in models.NewBlock
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		validation.NormalizeBlock(&in)
		if err := validation.ValidateBlock(&in); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		block, err := store.CreateBlock(ctx, userID, &in)
		if err != nil {
			logger.Ctx(ctx).Error("Failed to create block", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to save block")
			return
		}

		publishChange(ctx, pub, userID, changefeed.CollectionBlocks)
		respondJSON(w, http.StatusCreated, block)
	}
}

// HandleDeleteBlock handles DELETE /api/v1/blocks/{id}
func HandleDeleteBlock(store BlockStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if err := store.DeleteBlock(ctx, userID, id); err != nil {
			if errors.Is(err, db.ErrBlockNotFound) {
				respondError(w, http.StatusNotFound, "Block not found")
				return
			}
			logger.Ctx(ctx).Error("Failed to delete block", "error", err, "block_id", id)
			respondError(w, http.StatusInternalServerError, "Failed to delete block")
			return
		}

		publishChange(ctx, pub, userID, changefeed.CollectionBlocks)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleListPresets handles GET /api/v1/blocks/suggested
func HandleListPresets(catalog *blocks.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, catalog.List())
	}
}

// HandleAdoptPreset handles POST /api/v1/blocks/suggested/{id}: the preset
// becomes one of the user's blocks and a focus session starting now is
// logged under its title.
func HandleAdoptPreset(store BlockStore, catalog *blocks.Catalog, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		preset, err := catalog.Get(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusNotFound, "Preset not found")
			return
		}

		block, session := blocks.Adopt(preset, now().UTC())
		createPlannedBlock(w, r, store, pub, userID, block, session)
	}
}

// HandleCreateCustomBlock handles POST /api/v1/blocks/custom. The block's
// clock times are taken in the zone given by tz or tz_offset.
func HandleCreateCustomBlock(store BlockStore, pub auth.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		loc, err := locationFromRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		block, session := blocks.Custom(now().In(loc))
		createPlannedBlock(w, r, store, pub, userID, block, session)
	}
}

func createPlannedBlock(w http.ResponseWriter, r *http.Request, store BlockStore, pub auth.Publisher,
	userID int64, in *models.NewBlock, sessionIn *models.NewFocusSession) {
	ctx := r.Context()

	block, session, err := store.CreateBlockWithSession(ctx, userID, in, sessionIn)
	if err != nil {
		logger.Ctx(ctx).Error("Failed to create block with session", "error", err, "title", in.Title)
		respondError(w, http.StatusInternalServerError, "Failed to save block")
		return
	}

	publishChange(ctx, pub, userID, changefeed.CollectionBlocks)
	publishChange(ctx, pub, userID, changefeed.CollectionFocusSessions)
	respondJSON(w, http.StatusCreated, plannedBlockResponse{Block: block, Session: session})
}
