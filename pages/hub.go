// Package pages keeps track of open pages connected over websocket and
// relays messages between them and the offline cache.
package pages

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/spdeepak/shellcache"
	"golang.org/x/net/websocket"
)

// Sink receives messages sent by pages.
type Sink interface {
	HandleMessage(ctx context.Context, msg shellcache.Message) error
}

// Hub is the set of connected page sessions.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id   string
	conn *websocket.Conn
	// writes to one connection must not interleave
	mu sync.Mutex
}

func (s *session) send(msg shellcache.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return websocket.JSON.Send(s.conn, msg)
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger,
		sessions: make(map[string]*session),
	}
}

// Handler accepts page connections and forwards their messages to sink.
func (h *Hub) Handler(sink Sink) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, sink)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

func (h *Hub) serve(conn *websocket.Conn, sink Sink) {
	s := &session{id: uuid.NewString(), conn: conn}
	h.add(s)
	defer h.remove(s.id)

	ctx := shellcache.WithPageHost(conn.Request().Context(), conn.Request().Host)
	logger := h.log.With(slog.String("session", s.id))
	logger.Debug("Page connected")

	for {
		var msg shellcache.Message
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Page connection closed", slog.Any("error", err.Error()))
			}
			return
		}
		if sink == nil {
			continue
		}
		if err := sink.HandleMessage(ctx, msg); err != nil {
			logger.Warn("Page message failed", slog.String("type", string(msg.Type)), slog.Any("error", err.Error()))
		}
	}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

// Len returns the number of connected pages.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends msg to every connected page. A page that can't be written
// to is disconnected; the others still receive the message.
func (h *Hub) Broadcast(ctx context.Context, msg shellcache.Message) error {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.send(msg); err != nil {
			h.log.Warn("Dropping unreachable page", slog.String("session", s.id), slog.Any("error", err.Error()))
			h.remove(s.id)
		}
	}
	return nil
}
