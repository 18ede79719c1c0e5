package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/unwatchhq/unwatch/internal/clientip"
	"github.com/unwatchhq/unwatch/internal/logger"
)

// Maximum length for error messages and user agents in logs
const (
	maxErrorMessageLength = 200
	maxUserAgentLength    = 100
)

// AccessLog writes one structured line per request once it completes.
// It reads the client address set by clientip.Middleware and the request
// logger set by logger.Middleware, so it must run after both. 4xx error
// messages are included; 5xx bodies are not, as they may leak internals.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(lrw, r)

		clientIP := clientip.FromRequest(r).Primary
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"bytes", lrw.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP,
		}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			attrs = append(attrs, "req_id", reqID)
		}
		if lrw.userIDSet {
			attrs = append(attrs, "user_id", lrw.userID)
		}
		if lrw.statusCode >= 400 && lrw.statusCode < 500 && len(lrw.body) > 0 {
			if msg := extractErrorMessage(lrw.body); msg != "" {
				attrs = append(attrs, "err", msg)
			}
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			attrs = append(attrs, "ua", truncateRunes(sanitizeLogValue(ua), maxUserAgentLength))
		}

		log := logger.Ctx(r.Context())
		switch {
		case lrw.statusCode >= 500:
			log.Error("request", attrs...)
		case lrw.statusCode >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	})
}

// sanitizeLogValue replaces control characters with spaces.
func sanitizeLogValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
}

func truncateRunes(s string, limit int) string {
	if runes := []rune(s); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return s
}

// extractErrorMessage reads {"error": "..."} bodies, falling back to the
// trimmed plain text.
func extractErrorMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}
	return truncateRunes(sanitizeLogValue(msg), maxErrorMessageLength)
}

// loggingResponseWriter records status, size and the start of 4xx bodies.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	body         []byte
	userID       int64
	userIDSet    bool
}

// SetLogUserID is called by auth.RequireSession once the user is known.
func (lrw *loggingResponseWriter) SetLogUserID(id int64) {
	lrw.userID = id
	lrw.userIDSet = true
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.statusCode >= 400 && lrw.statusCode < 500 {
		maxCapture := maxErrorMessageLength + 50
		if remaining := maxCapture - len(lrw.body); remaining > 0 {
			lrw.body = append(lrw.body, b[:min(len(b), remaining)]...)
		}
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += n
	return n, err
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the WebSocket upgrader.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
