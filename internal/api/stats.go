package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/unwatchhq/unwatch/internal/live"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/stats"
	"github.com/unwatchhq/unwatch/internal/storage"
)

// maxTZOffsetMinutes is the widest UTC offset in use (UTC+14).
const maxTZOffsetMinutes = 14 * 60

// FocusSessionLister reads a user's sessions, most recent start first.
type FocusSessionLister interface {
	ListFocusSessions(ctx context.Context, userID int64) ([]models.FocusSession, error)
}

// ExportStore receives exported workbooks. *storage.S3Storage implements it.
type ExportStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

type exportLinkResponse struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
}

// errInvalidTimeZone is returned by locationFromRequest for bad parameters.
var errInvalidTimeZone = errors.New("invalid time zone")

// locationFromRequest picks the zone that hour labels and streak days are
// computed in: tz=<IANA name> wins, then tz_offset=<minutes east of UTC>,
// else UTC.
func locationFromRequest(r *http.Request) (*time.Location, error) {
	q := r.URL.Query()
	if name := q.Get("tz"); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown zone %q", errInvalidTimeZone, name)
		}
		return loc, nil
	}
	if raw := q.Get("tz_offset"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < -maxTZOffsetMinutes || minutes > maxTZOffsetMinutes {
			return nil, fmt.Errorf("%w: tz_offset must be minutes between -%d and %d",
				errInvalidTimeZone, maxTZOffsetMinutes, maxTZOffsetMinutes)
		}
		return time.FixedZone(offsetName(minutes), minutes*60), nil
	}
	return time.UTC, nil
}

func offsetName(minutes int) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}

// statsLoader computes a user's stats in loc from their stored sessions.
func statsLoader(store FocusSessionLister, loc *time.Location) live.Loader[stats.DerivedStats] {
	return func(ctx context.Context, userID int64) (stats.DerivedStats, error) {
		sessions, err := store.ListFocusSessions(ctx, userID)
		if err != nil {
			return stats.DerivedStats{}, err
		}
		return stats.Compute(sessions, loc), nil
	}
}

// HandleGetStats handles GET /api/v1/stats
func HandleGetStats(store FocusSessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		loc, err := locationFromRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		derived, err := statsLoader(store, loc)(ctx, userID)
		if err != nil {
			logger.Ctx(ctx).Error("Failed to compute stats", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load stats")
			return
		}
		respondJSON(w, http.StatusOK, derived)
	}
}

// HandleGetSummary handles GET /api/v1/stats/summary
func HandleGetSummary(store FocusSessionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		sessions, err := store.ListFocusSessions(ctx, userID)
		if err != nil {
			logger.Ctx(ctx).Error("Failed to list focus sessions", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load stats")
			return
		}
		respondJSON(w, http.StatusOK, stats.Summarize(sessions))
	}
}

// HandleExportStats handles GET /api/v1/stats/export. Without export
// storage the workbook is returned inline; with it the workbook is
// uploaded and a presigned link returned.
func HandleExportStats(store FocusSessionLister, exports ExportStore, expiry time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Ctx(ctx)
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		loc, err := locationFromRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		sessions, err := store.ListFocusSessions(ctx, userID)
		if err != nil {
			log.Error("Failed to list focus sessions", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to export stats")
			return
		}
		data, err := stats.ExportXLSX(stats.Compute(sessions, loc), sessions, loc)
		if err != nil {
			log.Error("Failed to render export", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to export stats")
			return
		}

		now := time.Now()
		filename := fmt.Sprintf("unwatch-stats-%s.xlsx", now.In(loc).Format(time.DateOnly))

		if exports == nil {
			w.Header().Set("Content-Type", stats.XLSXContentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}

		key := storage.ExportKey(userID, now, fmt.Sprintf("stats-%d", now.Unix()))
		if err := exports.Upload(ctx, key, data, stats.XLSXContentType); err != nil {
			log.Error("Failed to upload export", "error", err, "key", key)
			respondError(w, http.StatusInternalServerError, "Failed to export stats")
			return
		}
		url, err := exports.PresignedURL(ctx, key, filename, expiry)
		if err != nil {
			log.Error("Failed to presign export", "error", err, "key", key)
			respondError(w, http.StatusInternalServerError, "Failed to export stats")
			return
		}

		log.Info("Stats exported", "key", key, "sessions", len(sessions))
		respondJSON(w, http.StatusOK, exportLinkResponse{
			URL:       url,
			Filename:  filename,
			ExpiresAt: now.Add(expiry).UTC(),
		})
	}
}
