// Package auth implements email/password accounts and the device sessions
// that carry them. A session token is presented either as a bearer token
// (mobile clients) or as a cookie (browsers).
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/unwatchhq/unwatch/internal/models"
)

const (
	SessionCookieName = "unwatch_session"
	SessionDuration   = 30 * 24 * time.Hour // 30 days
)

// Errors returned when a request carries no usable token.
var (
	ErrMissingToken      = errors.New("Missing session token")
	ErrInvalidAuthHeader = errors.New("Invalid Authorization header format")
	// ErrAccountInactive is returned by SessionCheck once the session's
	// user has been deactivated.
	ErrAccountInactive = errors.New("Account is inactive")
)

// Store is the persistence auth needs. *db.DB implements it.
type Store interface {
	CreatePasswordUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	AuthenticatePassword(ctx context.Context, email, password string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	CreateWebSession(ctx context.Context, sessionID string, userID int64, expiresAt time.Time) error
	GetWebSession(ctx context.Context, sessionID string) (*models.WebSession, error)
	DeleteWebSession(ctx context.Context, sessionID string) error
}

type contextKey string

const (
	userIDContextKey       contextKey = "userID"
	sessionTokenContextKey contextKey = "sessionToken"
)

// GetUserIDContextKey returns the context key for user ID
func GetUserIDContextKey() contextKey {
	return userIDContextKey
}

// GetUserID extracts the user ID from request context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// GetSessionToken extracts the token the request authenticated with
func GetSessionToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionTokenContextKey).(string)
	return token, ok
}

// SetUserIDForTest stores a user ID in ctx as RequireSession would.
// This should only be used in tests.
func SetUserIDForTest(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SetSessionForTest stores a user ID and session token in ctx.
// This should only be used in tests.
func SetSessionForTest(ctx context.Context, userID int64, token string) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, sessionTokenContextKey, token)
}

// GenerateSessionToken returns a random URL-safe session token.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// TokenFromRequest returns the session token from the Authorization header,
// falling back to the session cookie. A malformed header is an error even
// when a cookie is present.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrInvalidAuthHeader
		}
		return strings.TrimSpace(token), nil
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", ErrMissingToken
}

// UsesCookie reports whether r authenticates with the session cookie
// rather than a bearer token.
func UsesCookie(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	cookie, err := r.Cookie(SessionCookieName)
	return err == nil && cookie.Value != ""
}

// cookieSecure returns whether cookies should have Secure flag
// Secure by default (HTTPS only), can be disabled for local dev
func cookieSecure() bool {
	return os.Getenv("INSECURE_DEV_MODE") != "true"
}

func setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}
