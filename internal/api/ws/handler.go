// Package ws accepts streaming clients over WebSocket and runs one session
// per connection.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"realtime-stt-gateway/internal/events"
	"realtime-stt-gateway/internal/service/export"
	"realtime-stt-gateway/internal/service/pool"
	"realtime-stt-gateway/internal/service/session"
)

// MaxMessageBytes bounds a single inbound frame (10s of audio).
const MaxMessageBytes = 10 * 32000

// Handler upgrades requests to WebSocket and streams them through a session.
type Handler struct {
	ctx      context.Context
	upgrader websocket.Upgrader
	pools    *pool.Set
	store    export.Store
	sink     events.Sink
	cfg      session.Config

	wg       sync.WaitGroup
	active   atomic.Int64
	draining atomic.Bool
}

// NewHandler returns a handler whose sessions live until ctx is canceled or
// the client goes away.
func NewHandler(ctx context.Context, pools *pool.Set, store export.Store, sink events.Sink, cfg session.Config) *Handler {
	return &Handler{
		ctx: ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pools: pools,
		store: store,
		sink:  sink,
		cfg:   cfg,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(MaxMessageBytes)

	h.wg.Add(1)
	h.active.Add(1)
	defer func() {
		h.active.Add(-1)
		h.wg.Done()
	}()

	id := uuid.NewString()
	log.Info().Str("sessionId", id).Str("remote", r.RemoteAddr).Msg("Stream connection accepted")

	s := session.New(id, conn, h.pools, h.store, h.sink, h.cfg)
	if err := s.Run(h.ctx); err != nil && !isClientGone(err) {
		log.Warn().Err(err).Str("sessionId", id).Msg("Stream ended with error")
	}
	// Drain covers the export save and its event.
	s.Wait()
}

// Active returns the number of running sessions.
func (h *Handler) Active() int64 {
	return h.active.Load()
}

// Drain rejects new connections and waits for running sessions to finish or
// ctx to expire.
func (h *Handler) Drain(ctx context.Context) error {
	h.draining.Store(true)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClientGone(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}
