package db

import (
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unwatchhq/unwatch/internal/models"
)

func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn), mock
}

var focusSessionRowColumns = []string{
	"id", "user_id", "start_time", "end_time", "focus_minutes", "total_minutes",
	"block_type", "name", "notes", "mood", "category", "created_at",
}

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func TestAppendFocusSession_Mock(t *testing.T) {
	database, mock := setupMockDB(t)
	ctx := t.Context()

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	created := start.Add(time.Hour)
	mock.ExpectQuery(`INSERT INTO focus_sessions`).
		WithArgs(sqlmock.AnyArg(), int64(7), start, start.Add(time.Hour), int64(50), nil,
			"Laser Focus", nil, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	s, err := database.AppendFocusSession(ctx, 7, &models.NewFocusSession{
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		FocusMinutes: intPtr(50),
		BlockType:    strPtr("Laser Focus"),
	})

	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, created, s.CreatedAt)
	assert.Equal(t, 50, *s.FocusMinutes)
	assert.Nil(t, s.TotalMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFocusSessions_Mock(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	batch := []models.NewFocusSession{
		{StartTime: start, EndTime: start.Add(30 * time.Minute)},
		{StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour)},
	}

	t.Run("commits every record", func(t *testing.T) {
		database, mock := setupMockDB(t)

		mock.ExpectBegin()
		prep := mock.ExpectPrepare(`INSERT INTO focus_sessions`)
		prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		mock.ExpectCommit()

		out, err := database.AppendFocusSessions(t.Context(), 7, batch)
		require.NoError(t, err)
		assert.Len(t, out, 2)
		assert.NotEqual(t, out[0].ID, out[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when one insert fails", func(t *testing.T) {
		database, mock := setupMockDB(t)

		mock.ExpectBegin()
		prep := mock.ExpectPrepare(`INSERT INTO focus_sessions`)
		prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		prep.ExpectQuery().WillReturnError(errors.New("check constraint"))
		mock.ExpectRollback()

		out, err := database.AppendFocusSessions(t.Context(), 7, batch)
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Contains(t, err.Error(), "focus session 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch does not touch the database", func(t *testing.T) {
		database, mock := setupMockDB(t)

		out, err := database.AppendFocusSessions(t.Context(), 7, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.NotNil(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized batch is rejected", func(t *testing.T) {
		database, mock := setupMockDB(t)

		_, err := database.AppendFocusSessions(t.Context(), 7, make([]models.NewFocusSession, MaxBatchSessions+1))
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListFocusSessionsSince_Mock(t *testing.T) {
	database, mock := setupMockDB(t)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	start := since.Add(26 * time.Hour)
	rows := sqlmock.NewRows(focusSessionRowColumns).
		AddRow("5f0c6c2e-6f54-4a55-9d43-7a0d5b0f4a10", int64(7), start, start.Add(time.Hour), int64(45), nil,
			"Creative Burst", "Draft", nil, "😃", "Work", start).
		AddRow("0c1e4b8a-2b6e-4d8f-8a8e-6a7c1e2f3d40", int64(7), since, since.Add(time.Hour), nil, nil,
			nil, nil, nil, nil, nil, since)

	mock.ExpectQuery(regexp.QuoteMeta(`AND start_time >= $2 ORDER BY start_time DESC, created_at DESC`)).
		WithArgs(int64(7), since).
		WillReturnRows(rows)

	sessions, err := database.ListFocusSessionsSince(t.Context(), 7, since)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, 45, *sessions[0].FocusMinutes)
	assert.Nil(t, sessions[0].TotalMinutes)
	assert.Equal(t, "Creative Burst", *sessions[0].BlockType)
	assert.Equal(t, "😃", *sessions[0].Mood)
	assert.Nil(t, sessions[0].Notes)

	assert.Nil(t, sessions[1].FocusMinutes)
	assert.Nil(t, sessions[1].BlockType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFocusSessions_Mock_Empty(t *testing.T) {
	database, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM focus_sessions WHERE user_id = \$1 ORDER BY`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(focusSessionRowColumns))

	sessions, err := database.ListFocusSessions(t.Context(), 7)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFocusSession_Mock(t *testing.T) {
	id := "5f0c6c2e-6f54-4a55-9d43-7a0d5b0f4a10"

	t.Run("deletes owned session", func(t *testing.T) {
		database, mock := setupMockDB(t)
		mock.ExpectExec(`DELETE FROM focus_sessions`).
			WithArgs(id, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, database.DeleteFocusSession(t.Context(), 7, id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing or foreign session", func(t *testing.T) {
		database, mock := setupMockDB(t)
		mock.ExpectExec(`DELETE FROM focus_sessions`).
			WithArgs(id, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := database.DeleteFocusSession(t.Context(), 7, id)
		assert.ErrorIs(t, err, ErrFocusSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		database, mock := setupMockDB(t)

		err := database.DeleteFocusSession(t.Context(), 7, "not-a-uuid")
		assert.ErrorIs(t, err, ErrFocusSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListBlocks_Mock(t *testing.T) {
	database, mock := setupMockDB(t)

	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "description", "start_time", "end_time", "apps", "created_at"}).
		AddRow("b7a1c2d3-0000-4000-8000-000000000001", int64(7), "Night Detox", "Block socials after 9pm, every day.",
			"21:00", "23:59", "{instagram,tiktok}", created).
		AddRow("b7a1c2d3-0000-4000-8000-000000000002", int64(7), "Custom Block", "", "10:00", "10:45", "{}", created)

	mock.ExpectQuery(`FROM blocks WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	blocks, err := database.ListBlocks(t.Context(), 7)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"instagram", "tiktok"}, blocks[0].Apps)
	assert.Equal(t, []string{}, blocks[1].Apps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBlockWithSession_Mock(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	block := &models.NewBlock{Title: "Laser Focus", StartTime: "14:00", EndTime: "15:00"}
	session := &models.NewFocusSession{StartTime: start, EndTime: start.Add(time.Hour), BlockType: strPtr("Laser Focus")}

	t.Run("writes both in one transaction", func(t *testing.T) {
		database, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO blocks`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		mock.ExpectQuery(`INSERT INTO focus_sessions`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		mock.ExpectCommit()

		b, s, err := database.CreateBlockWithSession(t.Context(), 7, block, session)
		require.NoError(t, err)
		assert.Equal(t, "Laser Focus", b.Title)
		assert.Equal(t, []string{}, b.Apps)
		assert.Equal(t, "Laser Focus", *s.BlockType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session failure discards the block", func(t *testing.T) {
		database, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO blocks`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(start))
		mock.ExpectQuery(`INSERT INTO focus_sessions`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		b, s, err := database.CreateBlockWithSession(t.Context(), 7, block, session)
		require.Error(t, err)
		assert.Nil(t, b)
		assert.Nil(t, s)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetWebSession_Mock_NotFound(t *testing.T) {
	database, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM web_sessions ws`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err := database.GetWebSession(t.Context(), "gone")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredWebSessions_Mock(t *testing.T) {
	database, mock := setupMockDB(t)
	mock.ExpectExec(`DELETE FROM web_sessions WHERE expires_at <= NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := database.DeleteExpiredWebSessions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserStatus_Mock_NotFound(t *testing.T) {
	database, mock := setupMockDB(t)
	mock.ExpectExec(`UPDATE users SET status`).
		WithArgs(models.UserStatusInactive, int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.UpdateUserStatus(t.Context(), 404, models.UserStatusInactive)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
