package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// maxDebugBodySize caps how much of a body is logged.
const maxDebugBodySize = 10 * 1024

// redactedFields are blanked in logged JSON bodies.
var redactedFields = []string{"password", "confirm_password", "token"}

// debugLoggingMiddleware logs request and response bodies when LOG_LEVEL is
// debug. Compressed request bodies are not logged.
func debugLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !logger.IsDebug() {
			next.ServeHTTP(w, r)
			return
		}
		log := logger.Ctx(r.Context())

		if r.Body != nil && hasBody(r) && r.Header.Get("Content-Encoding") == "" {
			full, err := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(full))
			if err == nil {
				logged, truncated := debugBody(full)
				log.Debug("request body", "method", r.Method, "path", r.URL.Path,
					"body", logged, "truncated", truncated)
			}
		}

		capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)

		logged, truncated := debugBody(capture.body.Bytes())
		log.Debug("response body", "method", r.Method, "path", r.URL.Path,
			"status", capture.status, "body", logged,
			"truncated", truncated || capture.truncated)
	})
}

// debugBody redacts secrets from a JSON object body and truncates it.
func debugBody(body []byte) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		redacted := false
		for _, field := range redactedFields {
			if _, ok := obj[field]; ok {
				obj[field] = "[REDACTED]"
				redacted = true
			}
		}
		if redacted {
			if out, err := json.Marshal(obj); err == nil {
				body = out
			}
		}
	}
	if len(body) > maxDebugBodySize {
		return string(body[:maxDebugBodySize]), true
	}
	return string(body), false
}

// responseCapture keeps the first maxDebugBodySize bytes of a response.
type responseCapture struct {
	http.ResponseWriter
	body      bytes.Buffer
	status    int
	truncated bool
}

func (w *responseCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseCapture) Write(b []byte) (int, error) {
	if remaining := maxDebugBodySize - w.body.Len(); remaining > 0 {
		if len(b) > remaining {
			w.body.Write(b[:remaining])
			w.truncated = true
		} else {
			w.body.Write(b)
		}
	} else if len(b) > 0 {
		w.truncated = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseCapture) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
