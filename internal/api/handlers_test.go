package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/models"
)

// fakeData is an in-memory FocusSessionStore and BlockStore.
type fakeData struct {
	mu       sync.Mutex
	nextID   int
	sessions map[int64][]models.FocusSession
	blocks   map[int64][]models.Block
	// err, when set, is returned by every method.
	err error
}

func newFakeData() *fakeData {
	return &fakeData{
		sessions: make(map[int64][]models.FocusSession),
		blocks:   make(map[int64][]models.Block),
	}
}

func (f *fakeData) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeData) appendLocked(userID int64, in *models.NewFocusSession) models.FocusSession {
	s := models.FocusSession{
		ID:           f.id("fs"),
		UserID:       userID,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		FocusMinutes: in.FocusMinutes,
		TotalMinutes: in.TotalMinutes,
		BlockType:    in.BlockType,
		Name:         in.Name,
		Notes:        in.Notes,
		Mood:         in.Mood,
		Category:     in.Category,
		CreatedAt:    time.Now().UTC(),
	}
	f.sessions[userID] = append(f.sessions[userID], s)
	return s
}

func (f *fakeData) AppendFocusSession(ctx context.Context, userID int64, in *models.NewFocusSession) (*models.FocusSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.appendLocked(userID, in)
	return &s, nil
}

func (f *fakeData) AppendFocusSessions(ctx context.Context, userID int64, in []models.NewFocusSession) ([]models.FocusSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.FocusSession, 0, len(in))
	for i := range in {
		out = append(out, f.appendLocked(userID, &in[i]))
	}
	return out, nil
}

func (f *fakeData) ListFocusSessions(ctx context.Context, userID int64) ([]models.FocusSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := slices.Clone(f.sessions[userID])
	slices.SortStableFunc(out, func(a, b models.FocusSession) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if out == nil {
		out = []models.FocusSession{}
	}
	return out, nil
}

func (f *fakeData) DeleteFocusSession(ctx context.Context, userID int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	list := f.sessions[userID]
	i := slices.IndexFunc(list, func(s models.FocusSession) bool { return s.ID == id })
	if i < 0 {
		return db.ErrFocusSessionNotFound
	}
	f.sessions[userID] = slices.Delete(list, i, i+1)
	return nil
}

func (f *fakeData) createBlockLocked(userID int64, in *models.NewBlock) models.Block {
	b := models.Block{
		ID:          f.id("blk"),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Apps:        in.Apps,
		CreatedAt:   time.Now().UTC(),
	}
	if b.Apps == nil {
		b.Apps = []string{}
	}
	f.blocks[userID] = append([]models.Block{b}, f.blocks[userID]...)
	return b
}

func (f *fakeData) CreateBlock(ctx context.Context, userID int64, in *models.NewBlock) (*models.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b := f.createBlockLocked(userID, in)
	return &b, nil
}

func (f *fakeData) CreateBlockWithSession(ctx context.Context, userID int64, block *models.NewBlock, session *models.NewFocusSession) (*models.Block, *models.FocusSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	b := f.createBlockLocked(userID, block)
	s := f.appendLocked(userID, session)
	return &b, &s, nil
}

func (f *fakeData) ListBlocks(ctx context.Context, userID int64) ([]models.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := slices.Clone(f.blocks[userID])
	if out == nil {
		out = []models.Block{}
	}
	return out, nil
}

func (f *fakeData) DeleteBlock(ctx context.Context, userID int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	list := f.blocks[userID]
	i := slices.IndexFunc(list, func(b models.Block) bool { return b.ID == id })
	if i < 0 {
		return db.ErrBlockNotFound
	}
	f.blocks[userID] = slices.Delete(list, i, i+1)
	return nil
}

// recordingPublisher collects published changes.
type recordingPublisher struct {
	mu      sync.Mutex
	changes []changefeed.Change
}

func (p *recordingPublisher) Publish(ctx context.Context, c changefeed.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) collections() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Collection)
	}
	return out
}

// serve routes one request for userID through a chi router so URL
// parameters resolve.
func serve(t *testing.T, method, pattern, target string, handler http.HandlerFunc, body any, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req = req.WithContext(auth.SetUserIDForTest(req.Context(), userID))
	}

	r := chi.NewRouter()
	r.Method(method, pattern, handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeJSON(t, w, &body)
	return body["error"]
}

func sessionBody(start string, minutes int) map[string]any {
	st, _ := time.Parse(time.RFC3339, start)
	return map[string]any{
		"start_time": st.Format(time.RFC3339),
		"end_time":   st.Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339),
	}
}

var errStoreDown = errors.New("connection refused")
