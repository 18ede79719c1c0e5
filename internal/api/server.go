// Package api is the HTTP surface of the backend: JSON endpoints for
// accounts, focus sessions, blocks and stats, and WebSocket streams that
// push fresh snapshots whenever the underlying data changes.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unwatchhq/unwatch/internal/auth"
	"github.com/unwatchhq/unwatch/internal/blocks"
	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/clientip"
	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/live"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/ratelimit"
	"github.com/unwatchhq/unwatch/internal/storage"
)

// Deps are the collaborators the server is built from. Storage and the
// limiters are optional.
type Deps struct {
	DB      *db.DB
	Hub     *live.Hub
	Catalog *blocks.Catalog
	Storage *storage.S3Storage

	// AuthLimiter throttles /auth by client address, APILimiter throttles
	// /api/v1 by user.
	AuthLimiter ratelimit.RateLimiter
	APILimiter  ratelimit.RateLimiter

	// AllowedOrigins are the browser origins allowed by CORS and trusted by
	// cross-origin protection and the WebSocket origin check.
	AllowedOrigins   []string
	TrustedIPHeaders []string

	// ExportURLExpiry is how long a presigned export link stays valid.
	ExportURLExpiry time.Duration
	Version         string
}

// Server holds dependencies for API handlers
type Server struct {
	db       *db.DB
	hub      *live.Hub
	feed     changefeed.Feed
	catalog  *blocks.Catalog
	storage  *storage.S3Storage
	clientIP *clientip.Resolver

	authLimiter ratelimit.RateLimiter
	apiLimiter  ratelimit.RateLimiter

	allowedOrigins  []string
	exportURLExpiry time.Duration
	version         string
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	catalog := deps.Catalog
	if catalog == nil {
		catalog = blocks.DefaultCatalog()
	}
	expiry := deps.ExportURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	var feed changefeed.Feed
	if deps.Hub != nil {
		feed = deps.Hub.Feed()
	}
	return &Server{
		db:              deps.DB,
		hub:             deps.Hub,
		feed:            feed,
		catalog:         catalog,
		storage:         deps.Storage,
		clientIP:        clientip.NewResolver(deps.TrustedIPHeaders),
		authLimiter:     deps.AuthLimiter,
		apiLimiter:      deps.APILimiter,
		allowedOrigins:  deps.AllowedOrigins,
		exportURLExpiry: expiry,
		version:         deps.Version,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.clientIP.Middleware)
	r.Use(logger.Middleware)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(SpanEnricher)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	csrfMiddleware := s.newCSRFMiddleware()
	compressor := newCompressor()

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	r.Route("/auth", func(r chi.Router) {
		if s.authLimiter != nil {
			r.Use(ratelimit.Middleware(s.authLimiter))
		}
		r.Use(csrfWhenSession(csrfMiddleware))
		r.Use(validateContentType)
		r.Post("/register", auth.HandleRegister(s.db))
		r.Post("/login", auth.HandleLogin(s.db))
		r.Post("/logout", auth.HandleLogout(s.db, s.feed))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireSession(s.db))
		if s.apiLimiter != nil {
			r.Use(ratelimit.MiddlewareWithKey(s.apiLimiter, ratelimit.UserKeyFunc(auth.GetUserIDContextKey())))
		}
		r.Use(csrfWhenSession(csrfMiddleware))

		// Streams hijack the connection and must not be compressed.
		r.Get("/stats/stream", HandleStatsStream(s.hub, s.db, s.db, s.allowedOrigins))
		r.Get("/blocks/stream", HandleBlocksStream(s.hub, s.db, s.db, s.allowedOrigins))

		r.Group(func(r chi.Router) {
			r.Use(compressor.Handler)
			r.Use(validateContentType)
			r.Use(debugLoggingMiddleware)

			r.Get("/me", auth.HandleCurrentUser(s.db))
			r.Get("/options", HandleGetOptions())

			r.Get("/focus-sessions", HandleListFocusSessions(s.db))
			r.Post("/focus-sessions", HandleCreateFocusSession(s.db, s.feed))
			r.With(decompressMiddleware()).Post("/focus-sessions/batch", HandleImportFocusSessions(s.db, s.feed))
			r.Delete("/focus-sessions/{id}", HandleDeleteFocusSession(s.db, s.feed))

			r.Get("/stats", HandleGetStats(s.db))
			r.Get("/stats/summary", HandleGetSummary(s.db))
			r.Get("/stats/export", HandleExportStats(s.db, s.exportStore(), s.exportURLExpiry))

			r.Get("/blocks", HandleListBlocks(s.db))
			r.Post("/blocks", HandleCreateBlock(s.db, s.feed))
			r.Delete("/blocks/{id}", HandleDeleteBlock(s.db, s.feed))
			r.Get("/blocks/suggested", HandleListPresets(s.catalog))
			r.Post("/blocks/suggested/{id}", HandleAdoptPreset(s.db, s.catalog, s.feed))
			r.Post("/blocks/custom", HandleCreateCustomBlock(s.db, s.feed))
		})
	})

	return r
}

// exportStore returns nil when object storage is not configured.
func (s *Server) exportStore() ExportStore {
	if s.storage == nil {
		return nil
	}
	return s.storage
}

// newCSRFMiddleware rejects cross-origin unsafe requests. Browsers at
// AllowedOrigins are trusted.
func (s *Server) newCSRFMiddleware() func(http.Handler) http.Handler {
	protection := csrf.New()
	for _, origin := range s.allowedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			logger.Warn("ignoring invalid trusted origin", "origin", origin, "error", err)
		}
	}
	deny := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Ctx(r.Context()).Warn("Cross-origin request blocked",
			"method", r.Method, "path", r.URL.Path, "origin", r.Header.Get("Origin"))
		respondError(w, http.StatusForbidden, "Cross-origin request blocked")
	})
	return func(h http.Handler) http.Handler {
		return protection.HandlerWithFailHandler(h, deny)
	}
}

// csrfWhenSession applies csrfMiddleware only to requests that do not carry
// a Bearer token. Bearer tokens are never sent implicitly by a browser.
func csrfWhenSession(csrfMiddleware func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := csrfMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBearerToken(r) {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func hasBearerToken(r *http.Request) bool {
	scheme, _, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	return ok && strings.EqualFold(scheme, "Bearer")
}

// newCompressor compresses JSON and spreadsheet responses with brotli or gzip.
func newCompressor() *middleware.Compressor {
	c := middleware.NewCompressor(5,
		"application/json",
		"text/plain",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return c
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			logger.Ctx(r.Context()).Error("Health check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleRoot returns API info
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	version := s.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "unwatch-backend",
		"api":     "v1",
		"version": version,
	})
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
