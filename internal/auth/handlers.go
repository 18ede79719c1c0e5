package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

// MaxCredentialsBodySize bounds the JSON body of login and register.
const MaxCredentialsBodySize = 16 * 1024

// Publisher announces auth changes so open streams can re-check their
// session. changefeed.Feed implements it.
type Publisher interface {
	Publish(ctx context.Context, c changefeed.Change) error
}

type credentialsRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// SessionResponse is returned by login and register.
type SessionResponse struct {
	Token     string       `json:"token"`
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxCredentialsBodySize)
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	req.Email = validation.NormalizeEmail(req.Email)
	return &req, true
}

// HandleRegister handles POST /auth/register
func HandleRegister(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Ctx(ctx)

		req, ok := decodeCredentials(w, r)
		if !ok {
			return
		}
		if err := validation.ValidateRegistration(req.Email, req.Password, req.ConfirmPassword); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		hash, err := HashPassword(req.Password)
		if err != nil {
			log.Error("Failed to hash password", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to create account")
			return
		}

		user, err := store.CreatePasswordUser(ctx, req.Email, hash)
		if err != nil {
			if errors.Is(err, db.ErrUserExists) {
				respondError(w, http.StatusConflict, "An account with this email already exists.")
				return
			}
			log.Error("Failed to create user", "error", err, "email", req.Email)
			respondError(w, http.StatusInternalServerError, "Failed to create account")
			return
		}

		log.Info("Account registered", "user_id", user.ID, "email", req.Email)
		startSession(w, r, store, user, http.StatusCreated)
	}
}

// HandleLogin handles POST /auth/login
func HandleLogin(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Ctx(ctx)

		req, ok := decodeCredentials(w, r)
		if !ok {
			return
		}
		if err := validation.ValidateLogin(req.Email, req.Password); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		user, err := store.AuthenticatePassword(ctx, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, db.ErrAccountLocked) {
				log.Warn("Login attempt on locked account", "email", req.Email)
				respondError(w, http.StatusTooManyRequests, "Account is temporarily locked. Please try again later.")
				return
			}
			if errors.Is(err, db.ErrInvalidCredentials) {
				log.Warn("Failed login attempt", "email", req.Email)
				respondError(w, http.StatusUnauthorized, "Invalid email or password")
				return
			}
			log.Error("Password authentication error", "error", err, "email", req.Email)
			respondError(w, http.StatusInternalServerError, "An error occurred. Please try again.")
			return
		}
		if user.Status == models.UserStatusInactive {
			respondError(w, http.StatusForbidden, "Account is inactive")
			return
		}

		log.Info("Password login successful", "user_id", user.ID, "email", req.Email)
		startSession(w, r, store, user, http.StatusOK)
	}
}

func startSession(w http.ResponseWriter, r *http.Request, store Store, user *models.User, status int) {
	ctx := r.Context()

	token, err := GenerateSessionToken()
	if err != nil {
		logger.Ctx(ctx).Error("Failed to generate session token", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	expiresAt := time.Now().UTC().Add(SessionDuration)
	if err := store.CreateWebSession(ctx, token, user.ID, expiresAt); err != nil {
		logger.Ctx(ctx).Error("Failed to save session", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	setSessionCookie(w, token, expiresAt)
	respondJSON(w, status, SessionResponse{Token: token, User: user, ExpiresAt: expiresAt})
}

// HandleLogout handles POST /auth/logout. Signing out an unknown or
// already-ended session still succeeds.
func HandleLogout(store Store, pub Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Ctx(ctx)

		if token, err := TokenFromRequest(r); err == nil {
			session, err := store.GetWebSession(ctx, token)
			if err != nil && !errors.Is(err, db.ErrSessionNotFound) {
				log.Warn("Failed to look up session on logout", "error", err)
			}
			if err := store.DeleteWebSession(ctx, token); err != nil {
				log.Error("Failed to delete session", "error", err)
				respondError(w, http.StatusInternalServerError, "Failed to sign out")
				return
			}
			if session != nil {
				log.Info("Signed out", "user_id", session.UserID)
				if pub != nil {
					change := changefeed.Change{UserID: session.UserID, Collection: changefeed.CollectionAuth}
					if err := pub.Publish(ctx, change); err != nil {
						log.Warn("Failed to publish sign-out", "error", err, "user_id", session.UserID)
					}
				}
			}
		}

		clearSessionCookie(w)
		respondJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
	}
}

// logUserIDSetter is implemented by access-logging response writers.
type logUserIDSetter interface {
	SetLogUserID(id int64)
}

// RequireSession resolves the request's session token and rejects the
// request if it has none, or if the session is gone or its user inactive.
func RequireSession(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := TokenFromRequest(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, err.Error())
				return
			}

			session, err := store.GetWebSession(ctx, token)
			if err != nil {
				if errors.Is(err, db.ErrSessionNotFound) {
					respondError(w, http.StatusUnauthorized, "Invalid or expired session")
					return
				}
				logger.Ctx(ctx).Error("Failed to validate session", "error", err)
				respondError(w, http.StatusInternalServerError, "Failed to validate session")
				return
			}
			if session.UserStatus == models.UserStatusInactive {
				respondError(w, http.StatusForbidden, "Account is inactive")
				return
			}

			if setter, ok := w.(logUserIDSetter); ok {
				setter.SetLogUserID(session.UserID)
			}
			ctx = context.WithValue(ctx, userIDContextKey, session.UserID)
			ctx = context.WithValue(ctx, sessionTokenContextKey, token)
			ctx = logger.WithUser(ctx, session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleCurrentUser handles GET /auth/me
func HandleCurrentUser(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := GetUserID(ctx)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := store.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			logger.Ctx(ctx).Error("Failed to load user", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to load user")
			return
		}
		respondJSON(w, http.StatusOK, user)
	}
}

// SessionCheck returns a check that fails once token no longer names a
// live session of an active user. Lookup failures other than not-found
// count as still signed in, so a database blip does not end a stream.
func SessionCheck(store Store, token string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		session, err := store.GetWebSession(ctx, token)
		if errors.Is(err, db.ErrSessionNotFound) {
			return err
		}
		if err != nil {
			logger.Ctx(ctx).Warn("Session check failed, keeping stream", "error", err)
			return nil
		}
		if session.UserStatus == models.UserStatusInactive {
			return ErrAccountInactive
		}
		return nil
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
