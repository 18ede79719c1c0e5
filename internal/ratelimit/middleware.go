package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/unwatchhq/unwatch/internal/clientip"
	"github.com/unwatchhq/unwatch/internal/logger"
)

// ExceededMessage is the error body of a throttled request.
const ExceededMessage = "Rate limit exceeded. Please try again later."

// KeyFunc derives the bucket key for a request. An empty key falls back to
// the client address.
type KeyFunc func(*http.Request) string

// Middleware throttles by client address (set by clientip.Middleware).
func Middleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return MiddlewareWithKey(limiter, nil)
}

// MiddlewareWithKey throttles by keyFunc, falling back to the client address.
func MiddlewareWithKey(limiter RateLimiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			if keyFunc != nil {
				key = keyFunc(r)
			}
			if key == "" {
				key = "ip:" + clientip.FromRequest(r).RateLimitKey
			}

			if !limiter.Allow(r.Context(), key) {
				logger.Ctx(r.Context()).Warn("Rate limit exceeded", "key", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": ExceededMessage})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKeyFunc keys by the int64 user ID stored under userIDKey in the
// request context.
func UserKeyFunc(userIDKey interface{}) KeyFunc {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(userIDKey).(int64); ok {
			return "user:" + strconv.FormatInt(userID, 10)
		}
		return ""
	}
}
