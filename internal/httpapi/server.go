package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MimeLyc/live-chat-relay/internal/relay"
)

const defaultHeartbeatInterval = 10 * time.Second

type Server struct {
	rooms    *relay.Rooms
	upgrader websocket.Upgrader

	heartbeatInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithHeartbeatInterval overrides how often the server pings downstream
// clients (and how long it waits for theirs).
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

// WithCheckOrigin overrides the websocket origin check. The default accepts
// any origin; the relay is meant to sit behind a reverse proxy.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

func NewServer(rooms *relay.Rooms, opts ...Option) *Server {
	s := &Server{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		heartbeatInterval: defaultHeartbeatInterval,
		mux:               http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
