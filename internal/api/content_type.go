package api

import (
	"mime"
	"net/http"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// validateContentType requires POST, PUT and PATCH requests that carry a
// body to declare it as JSON. Bodyless actions such as adopting a preset
// need no Content-Type.
func validateContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) && hasBody(r) {
			log := logger.Ctx(r.Context())
			contentType := r.Header.Get("Content-Type")

			if contentType == "" {
				log.Info("Request missing Content-Type header", "method", method, "path", r.URL.Path)
				respondError(w, http.StatusUnsupportedMediaType, "Content-Type header required")
				return
			}

			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || mediaType != "application/json" {
				log.Info("Request with invalid Content-Type", "method", method, "path", r.URL.Path, "content_type", contentType)
				respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// hasBody reports whether r declares a request body.
func hasBody(r *http.Request) bool {
	return r.ContentLength > 0 || len(r.TransferEncoding) > 0
}
