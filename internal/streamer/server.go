package streamer

import (
	"context"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/stats"
)

// Counters is the unread counters store streamed to clients.
type Counters interface {
	GetTotal(ctx context.Context, userId int64) (int64, error)
	Subscribe(ctx context.Context, userIds ...int64) *redis.PubSub
}

type TokenVerifier interface {
	ParseServiceToken(tokenString string, allowed []string) (string, error)
}

// Server streams unread counter totals to backend services.
type Server struct {
	log       *log.Logger
	counters  Counters
	tokens    TokenVerifier
	audiences []string
	stats     stats.StatsProvider

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewServer(logger *log.Logger, counters Counters, tokens TokenVerifier, audiences []string, sp stats.StatsProvider) *Server {
	return &Server{
		log:       logger,
		counters:  counters,
		tokens:    tokens,
		audiences: audiences,
		stats:     sp,
		clients:   make(map[*Client]struct{}),
	}
}

// Serve authenticates an upgraded socket and starts its pumps. Invalid
// tokens are reported with a protocol error close.
func (s *Server) Serve(ctx context.Context, conn *websocket.Conn, token string) {
	aud, err := s.tokens.ParseServiceToken(token, s.audiences)
	if err != nil {
		s.log.Printf("streamer: reject connection: %v", err)
		connections.Reject(conn, connections.CloseProtocolError, "invalid token")
		return
	}

	c := newClient(ctx, conn, s, s.log)
	if !s.add(c) {
		connections.Reject(conn, connections.CloseGoingAway, "server shutdown")
		return
	}

	s.log.Printf("streamer: connection opened for %s", aud)
	go c.Write()
	go c.Read()
}

func (s *Server) add(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) remove(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		s.wg.Done()
	}
}

// Shutdown closes every client with 1001 and waits for them to release
// their subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		c.Close(connections.CloseGoingAway, "server shutdown")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
