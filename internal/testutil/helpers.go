package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/models"
)

// AuthenticatedRequest creates an HTTP request with user authentication context
func AuthenticatedRequest(t *testing.T, method, url string, body interface{}, userID int64) *http.Request {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, url, bodyReader)
	req.Header.Set("Content-Type", "application/json")

	// Simulate the session middleware
	return req.WithContext(auth.SetUserIDForTest(req.Context(), userID))
}

// ParseJSONResponse decodes JSON response body into v
func ParseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v. Body: %s", err, w.Body.String())
	}
}

// AssertStatus checks HTTP status code matches expected
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if w.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertErrorResponse checks error response format and message
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	t.Helper()

	AssertStatus(t, w, expectedStatus)

	var resp map[string]string
	ParseJSONResponse(t, w, &resp)

	if resp["error"] != expectedMessage {
		t.Errorf("expected error message %q, got %q", expectedMessage, resp["error"])
	}
}

// CreateTestUser creates a password user in the database for testing.
// The password hash is a placeholder, so the user cannot log in; use
// CreateTestUserWithPassword for that.
func CreateTestUser(t *testing.T, env *TestEnvironment, email string) *models.User {
	t.Helper()

	user, err := env.DB.CreatePasswordUser(env.Ctx, email, "$2a$12$placeholderplaceholderplaceholderplaceholderplacehold")
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestUserWithPassword creates a user who can log in with password.
func CreateTestUserWithPassword(t *testing.T, env *TestEnvironment, email, password string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user, err := env.DB.CreatePasswordUser(env.Ctx, email, hash)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestWebSession creates a web session in the database for testing
func CreateTestWebSession(t *testing.T, env *TestEnvironment, sessionID string, userID int64, expiresAt time.Time) {
	t.Helper()

	if err := env.DB.CreateWebSession(env.Ctx, sessionID, userID, expiresAt); err != nil {
		t.Fatalf("failed to create test web session: %v", err)
	}
}

// CreateTestWebSessionWithToken creates a web session and returns its token.
func CreateTestWebSessionWithToken(t *testing.T, env *TestEnvironment, userID int64) string {
	t.Helper()

	sessionID := fmt.Sprintf("test-session-%d-%d", userID, time.Now().UnixNano())
	CreateTestWebSession(t, env, sessionID, userID, time.Now().UTC().Add(24*time.Hour))
	return sessionID
}

// CreateTestFocusSession stores a focus session spanning start..start+minutes.
func CreateTestFocusSession(t *testing.T, env *TestEnvironment, userID int64, start time.Time, minutes int, blockType string) *models.FocusSession {
	t.Helper()

	in := &models.NewFocusSession{
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
	}
	if blockType != "" {
		in.BlockType = &blockType
	}
	s, err := env.DB.AppendFocusSession(env.Ctx, userID, in)
	if err != nil {
		t.Fatalf("failed to create test focus session: %v", err)
	}
	return s
}
