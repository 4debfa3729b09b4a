package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/streamer"
)

// StreamerApp serves the unread counters stream to backend services.
type StreamerApp struct {
	log      *log.Logger
	srv      *http.Server
	streamer *streamer.Server
	ping     func(ctx context.Context) error
	upgrader websocket.Upgrader
}

func NewStreamerApp(mux *http.ServeMux, logger *log.Logger, addr string, st *streamer.Server, ping func(ctx context.Context) error) *StreamerApp {
	s := &StreamerApp{
		log:      logger,
		streamer: st,
		ping:     ping,
		// callers are services, not browsers
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws/unread", s.serveWs)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: errorHandler(logger, mux),
	}
	return s
}

func (s *StreamerApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.log.Printf("health check: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// serveWs upgrades before authenticating; an invalid token is reported with
// a close frame.
func (s *StreamerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.streamer.Serve(r.Context(), conn, auth.TokenFromRequest(r))
}

func (s *StreamerApp) Start() error {
	s.log.Printf("starting streamer on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *StreamerApp) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("streamer shutdown: %w", err)
	}

	return s.streamer.Shutdown(ctx)
}
