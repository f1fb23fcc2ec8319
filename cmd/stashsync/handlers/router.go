package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/stashsync/internal/logging"
)

// RouterConfig holds the handlers mounted by NewRouter. Events may be nil.
type RouterConfig struct {
	Sync    *SyncHandler
	Library *LibraryHandler
	Events  http.Handler
}

// NewRouter builds the /api routes.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", Health)
		if cfg.Sync != nil {
			r.Route("/sync", cfg.Sync.Routes)
		}
		if cfg.Library != nil {
			cfg.Library.Routes(r)
		}
		if cfg.Events != nil {
			r.Handle("/events", cfg.Events)
		}
	})
	return r
}

// Health handles GET /api/health
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "stashsync"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}
