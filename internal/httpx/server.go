package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependency is something the API cannot serve reservations without.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

const pingTimeout = 2 * time.Second

// NewRouter mounts the liveness and readiness endpoints. /readyz answers 503
// while any dependency fails its ping.
func NewRouter(deps ...Dependency) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		for _, d := range deps {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			if err := d.Ping(ctx); err != nil {
				failed[d.Name] = err.Error()
			}
			cancel()
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
	return r
}
