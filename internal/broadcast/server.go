package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/session"
)

// EventSource is the per-event lookup a Server needs: a snapshot for
// SendFullSnapshot and the REST polling fallback. pipeline.Coordinator
// satisfies this structurally.
type EventSource interface {
	EventId() int
	Snapshot() *session.State
}

// Server exposes the broadcast surface over HTTP/WebSocket for one or more
// events.
type Server struct {
	hub            *Hub
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	log            zerolog.Logger

	mu     sync.RWMutex
	events map[int]EventSource
}

// NewServer creates a Server backed by hub. allowedOrigins of "" entries
// are ignored; an empty list falls back to same-origin/localhost checks.
func NewServer(hub *Hub, allowedOrigins []string, authToken string, log zerolog.Logger) *Server {
	s := &Server{
		hub:            hub,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		log:            log,
		events:         make(map[int]EventSource),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// RegisterEvent makes src's event reachable via /ws and the state polling
// endpoint. Call once per event at startup.
func (s *Server) RegisterEvent(src EventSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[src.EventId()] = src
}

func (s *Server) lookup(eventId int) (EventSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.events[eventId]
	return src, ok
}

// SetupRoutes registers the broadcast surface's HTTP endpoints on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/events/", s.handleEventState)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	eventId, err := strconv.Atoi(r.URL.Query().Get("event"))
	if err != nil {
		http.Error(w, "missing or invalid event query parameter", http.StatusBadRequest)
		return
	}
	src, ok := s.lookup(eventId)
	if !ok {
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c, err := s.hub.AddClient(eventId, conn, src.Snapshot)
	if err != nil {
		return
	}
	s.log.Info().Int("event_id", eventId).Str("remote", r.RemoteAddr).Msg("client connected")

	go func() {
		defer func() {
			s.hub.RemoveClient(eventId, c)
			s.log.Info().Int("event_id", eventId).Str("remote", r.RemoteAddr).Msg("client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleEventState serves GET /api/events/{id}/state as a REST fallback to
// SendFullSnapshot, for clients that cannot hold a WebSocket open.
func (s *Server) handleEventState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/events/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "state" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	eventId, err := strconv.Atoi(parts[0])
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	src, ok := s.lookup(eventId)
	if !ok {
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(src.Snapshot())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Timingcore-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return len(s.allowedOrigins) == 0
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

// ListenAndServe starts the HTTP server on host:port.
func ListenAndServe(host string, port int, mux *http.ServeMux, log zerolog.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info().Str("addr", addr).Msg("server listening")
	return http.ListenAndServe(addr, securityHeaders(mux))
}

// securityHeaders sets a conservative baseline for an API-only server: no
// embedded content, no framing, WebSocket connections allowed.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", strings.Join([]string{
			"default-src 'self'",
			"connect-src 'self' ws: wss:",
			"style-src 'self' 'unsafe-inline'",
			"img-src 'self' data:",
			"object-src 'none'",
			"base-uri 'self'",
		}, "; "))
		next.ServeHTTP(w, r)
	})
}
