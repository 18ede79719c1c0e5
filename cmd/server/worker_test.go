package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unwatchhq/unwatch/internal/models"
)

type fakeWorkerStore struct {
	deleted      int
	deleteErr    error
	users        []int64
	sessions     map[int64][]models.FocusSession
	listedSince  time.Time
	sessionsErrs map[int64]error
}

func (f *fakeWorkerStore) DeleteExpiredWebSessions(ctx context.Context) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted++
	return 2, nil
}

func (f *fakeWorkerStore) ListUsersWithSessionsSince(ctx context.Context, since time.Time) ([]int64, error) {
	f.listedSince = since
	return f.users, nil
}

func (f *fakeWorkerStore) ListFocusSessionsSince(ctx context.Context, userID int64, since time.Time) ([]models.FocusSession, error) {
	if err := f.sessionsErrs[userID]; err != nil {
		return nil, err
	}
	return f.sessions[userID], nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	data map[string][]byte
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.keys = append(f.keys, key)
	f.data[key] = data
	return nil
}

func workerSession(userID int64, start time.Time, minutes int) models.FocusSession {
	return models.FocusSession{
		ID:        "fs",
		UserID:    userID,
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestWorker_RunOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("cleans up and archives each active user once per week", func(t *testing.T) {
		store := &fakeWorkerStore{
			users: []int64{1, 2},
			sessions: map[int64][]models.FocusSession{
				1: {workerSession(1, now.Add(-time.Hour), 30)},
				2: {workerSession(2, now.Add(-48*time.Hour), 15)},
			},
		}
		uploads := &fakeUploader{}
		w := &Worker{db: store, archive: uploads, config: WorkerConfig{PollInterval: time.Hour}, now: func() time.Time { return now }}

		w.runOnce(context.Background())

		if store.deleted != 1 {
			t.Errorf("cleanup ran %d times, want 1", store.deleted)
		}
		if !store.listedSince.Equal(now.Add(-archiveLookback)) {
			t.Errorf("listed since %v, want %v", store.listedSince, now.Add(-archiveLookback))
		}
		want := []string{
			"exports/1/2024-03-01/weekly-2024-W09.xlsx",
			"exports/2/2024-03-01/weekly-2024-W09.xlsx",
		}
		if strings.Join(uploads.keys, ",") != strings.Join(want, ",") {
			t.Errorf("uploaded %v, want %v", uploads.keys, want)
		}
		for _, key := range uploads.keys {
			// XLSX files are zip archives.
			if !strings.HasPrefix(string(uploads.data[key]), "PK") {
				t.Errorf("%s is not an xlsx workbook", key)
			}
		}

		w.runOnce(context.Background())
		if len(uploads.keys) != 2 {
			t.Errorf("second poll in the same week uploaded again: %v", uploads.keys)
		}
		if store.deleted != 2 {
			t.Errorf("cleanup ran %d times, want 2", store.deleted)
		}
	})

	t.Run("failed user is retried on the next poll", func(t *testing.T) {
		store := &fakeWorkerStore{
			users:        []int64{1},
			sessions:     map[int64][]models.FocusSession{1: {workerSession(1, now, 10)}},
			sessionsErrs: map[int64]error{1: errors.New("connection reset")},
		}
		uploads := &fakeUploader{}
		w := &Worker{db: store, archive: uploads, config: WorkerConfig{PollInterval: time.Hour}, now: func() time.Time { return now }}

		w.runOnce(context.Background())
		if len(uploads.keys) != 0 {
			t.Fatalf("unexpected uploads %v", uploads.keys)
		}

		delete(store.sessionsErrs, 1)
		w.runOnce(context.Background())
		if len(uploads.keys) != 1 {
			t.Errorf("retry uploaded %v, want one workbook", uploads.keys)
		}
	})

	t.Run("dry run neither deletes nor uploads", func(t *testing.T) {
		store := &fakeWorkerStore{users: []int64{1}}
		uploads := &fakeUploader{}
		w := &Worker{db: store, archive: uploads, config: WorkerConfig{PollInterval: time.Hour, DryRun: true}, now: func() time.Time { return now }}

		w.runOnce(context.Background())
		if store.deleted != 0 || len(uploads.keys) != 0 {
			t.Errorf("dry run deleted=%d uploads=%v", store.deleted, uploads.keys)
		}
	})

	t.Run("without storage only cleans up", func(t *testing.T) {
		store := &fakeWorkerStore{deleteErr: errors.New("db down"), users: []int64{1}}
		w := &Worker{db: store, config: WorkerConfig{PollInterval: time.Hour}, now: func() time.Time { return now }}

		w.runOnce(context.Background())
		if !store.listedSince.IsZero() {
			t.Error("archive should not run without storage")
		}
	})
}

func TestIsoWeek(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-W09"},
		{time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC), "2020-W53"},
		{time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), "2025-W01"},
	}
	for _, tt := range tests {
		if got := isoWeek(tt.t); got != tt.want {
			t.Errorf("isoWeek(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
