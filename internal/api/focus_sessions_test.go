package api

import (
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/models"
)

func TestHandleCreateFocusSession(t *testing.T) {
	t.Run("stores session and publishes change", func(t *testing.T) {
		store := newFakeData()
		pub := &recordingPublisher{}
		body := sessionBody("2024-03-01T09:00:00Z", 30)
		body["category"] = " Work "
		body["mood"] = "😃"
		body["block_type"] = "Social"

		w := serve(t, "POST", "/focus-sessions", "/focus-sessions", HandleCreateFocusSession(store, pub), body, 1)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var got models.FocusSession
		decodeJSON(t, w, &got)
		if got.ID == "" {
			t.Error("expected an ID")
		}
		if got.Category == nil || *got.Category != "Work" {
			t.Errorf("category = %v, want trimmed Work", got.Category)
		}
		if len(store.sessions[1]) != 1 {
			t.Errorf("stored %d sessions, want 1", len(store.sessions[1]))
		}
		if c := pub.collections(); !slices.Equal(c, []string{changefeed.CollectionFocusSessions}) {
			t.Errorf("published %v", c)
		}
	})

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{name: "malformed JSON", body: "{", wantMsg: "Invalid request body"},
		{name: "missing start", body: map[string]any{"end_time": "2024-03-01T09:00:00Z"}, wantMsg: "start_time is required"},
		{
			name:    "end before start",
			body:    map[string]any{"start_time": "2024-03-01T10:00:00Z", "end_time": "2024-03-01T09:00:00Z"},
			wantMsg: "end_time must not be before start_time",
		},
		{
			name: "unknown category",
			body: map[string]any{
				"start_time": "2024-03-01T09:00:00Z", "end_time": "2024-03-01T10:00:00Z", "category": "Gaming",
			},
			wantMsg: "category must be one of",
		},
		{
			name: "negative focus minutes",
			body: map[string]any{
				"start_time": "2024-03-01T09:00:00Z", "end_time": "2024-03-01T10:00:00Z", "focus_minutes": -5,
			},
			wantMsg: "focus_minutes must not be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeData()
			pub := &recordingPublisher{}
			w := serve(t, "POST", "/focus-sessions", "/focus-sessions", HandleCreateFocusSession(store, pub), tt.body, 1)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if msg := errorMessage(t, w); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantMsg)
			}
			if len(store.sessions[1]) != 0 {
				t.Error("invalid input must not reach the store")
			}
			if len(pub.collections()) != 0 {
				t.Error("nothing should be published")
			}
		})
	}

	t.Run("store failure is reported", func(t *testing.T) {
		store := newFakeData()
		store.err = errStoreDown
		pub := &recordingPublisher{}
		w := serve(t, "POST", "/focus-sessions", "/focus-sessions", HandleCreateFocusSession(store, pub),
			sessionBody("2024-03-01T09:00:00Z", 30), 1)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
		if len(pub.collections()) != 0 {
			t.Error("failed write must not be published")
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := serve(t, "POST", "/focus-sessions", "/focus-sessions", HandleCreateFocusSession(newFakeData(), nil),
			sessionBody("2024-03-01T09:00:00Z", 30), 0)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestHandleListFocusSessions(t *testing.T) {
	store := newFakeData()
	handler := HandleCreateFocusSession(store, nil)
	serve(t, "POST", "/focus-sessions", "/focus-sessions", handler, sessionBody("2024-03-01T09:00:00Z", 30), 1)
	serve(t, "POST", "/focus-sessions", "/focus-sessions", handler, sessionBody("2024-03-02T09:00:00Z", 30), 1)
	serve(t, "POST", "/focus-sessions", "/focus-sessions", handler, sessionBody("2024-03-02T09:00:00Z", 30), 2)

	w := serve(t, "GET", "/focus-sessions", "/focus-sessions", HandleListFocusSessions(store), nil, 1)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got []models.FocusSession
	decodeJSON(t, w, &got)
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2 (other users excluded)", len(got))
	}
	if !got[0].StartTime.After(got[1].StartTime) {
		t.Error("sessions should be ordered by start time, newest first")
	}

	t.Run("empty list is an array", func(t *testing.T) {
		w := serve(t, "GET", "/focus-sessions", "/focus-sessions", HandleListFocusSessions(newFakeData()), nil, 9)
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("body = %s, want []", w.Body.String())
		}
	})
}

func TestHandleImportFocusSessions(t *testing.T) {
	t.Run("imports batch and publishes once", func(t *testing.T) {
		store := newFakeData()
		pub := &recordingPublisher{}
		body := map[string]any{"sessions": []any{
			sessionBody("2024-03-01T09:00:00Z", 30),
			sessionBody("2024-03-01T11:00:00Z", 45),
		}}

		w := serve(t, "POST", "/focus-sessions/batch", "/focus-sessions/batch", HandleImportFocusSessions(store, pub), body, 1)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp importResponse
		decodeJSON(t, w, &resp)
		if resp.Imported != 2 || len(resp.Sessions) != 2 {
			t.Errorf("imported = %d, sessions = %d", resp.Imported, len(resp.Sessions))
		}
		if c := pub.collections(); len(c) != 1 {
			t.Errorf("published %d changes, want 1", len(c))
		}
	})

	t.Run("one invalid record rejects the batch", func(t *testing.T) {
		store := newFakeData()
		body := map[string]any{"sessions": []any{
			sessionBody("2024-03-01T09:00:00Z", 30),
			map[string]any{"start_time": "2024-03-01T10:00:00Z"},
		}}

		w := serve(t, "POST", "/focus-sessions/batch", "/focus-sessions/batch", HandleImportFocusSessions(store, nil), body, 1)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if msg := errorMessage(t, w); !strings.HasPrefix(msg, "sessions[1]:") {
			t.Errorf("error = %q, want it to name the record", msg)
		}
		if len(store.sessions[1]) != 0 {
			t.Error("nothing should be stored")
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		w := serve(t, "POST", "/focus-sessions/batch", "/focus-sessions/batch",
			HandleImportFocusSessions(newFakeData(), nil), map[string]any{"sessions": []any{}}, 1)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("oversized batch", func(t *testing.T) {
		sessions := make([]any, db.MaxBatchSessions+1)
		for i := range sessions {
			sessions[i] = sessionBody("2024-03-01T09:00:00Z", 1)
		}
		w := serve(t, "POST", "/focus-sessions/batch", "/focus-sessions/batch",
			HandleImportFocusSessions(newFakeData(), nil), map[string]any{"sessions": sessions}, 1)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestHandleDeleteFocusSession(t *testing.T) {
	store := newFakeData()
	pub := &recordingPublisher{}
	created := serve(t, "POST", "/focus-sessions", "/focus-sessions", HandleCreateFocusSession(store, nil),
		sessionBody("2024-03-01T09:00:00Z", 30), 1)
	var s models.FocusSession
	decodeJSON(t, created, &s)

	t.Run("other users cannot delete", func(t *testing.T) {
		w := serve(t, "DELETE", "/focus-sessions/{id}", "/focus-sessions/"+s.ID, HandleDeleteFocusSession(store, pub), nil, 2)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("owner deletes", func(t *testing.T) {
		w := serve(t, "DELETE", "/focus-sessions/{id}", "/focus-sessions/"+s.ID, HandleDeleteFocusSession(store, pub), nil, 1)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
		if len(store.sessions[1]) != 0 {
			t.Error("session should be gone")
		}
		if c := pub.collections(); !slices.Equal(c, []string{changefeed.CollectionFocusSessions}) {
			t.Errorf("published %v", c)
		}
	})
}
