package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"realtime-stt-gateway/internal/service/pool"
)

// PoolStatus reports the seat state of every configured pool.
type PoolStatus interface {
	Status() []pool.Status
}

// NewRouter constructs the HTTP router for the service. stream serves the
// WebSocket endpoint; ready gates the readiness probe.
func NewRouter(stream http.Handler, pools PoolStatus, ready func() bool) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(pools.Status()); err != nil {
				log.Error().Err(err).Msg("Failed to encode pool status")
			}
		})
		r.Handle("/stream", stream)
	})

	return r
}
