package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/tickets"
	"github.com/npezzotti/go-messenger/internal/types"
)

type ChatService interface {
	GetHistory(ctx context.Context, caller chat.Caller, chatId, before int64, limit int) ([]types.Message, error)
	CloseChat(ctx context.Context, caller chat.Caller, chatId int64) error
	ReopenChat(ctx context.Context, caller chat.Caller, chatId int64) error
	EditMessage(ctx context.Context, caller chat.Caller, cmd *protocol.EditMessage) (types.Message, error)
	DeleteMessage(ctx context.Context, caller chat.Caller, cmd *protocol.DeleteMessage) error
	UnreadCounters(ctx context.Context, caller chat.Caller) (types.UnreadCounters, error)
}

type TicketService interface {
	TakeIntoWork(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error)
	Close(ctx context.Context, caller chat.Caller, ticketId int64, reason types.TicketCloseReason, comment string) (database.Ticket, error)
	Confirm(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error)
	Reopen(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error)
	Stats(ctx context.Context, forUserId *int64, from, to time.Time) (types.TicketStats, error)
	Counters(ctx context.Context, caller chat.Caller, status *types.TicketStatus) (map[types.TicketStatus]int64, error)
	Create(ctx context.Context, caller chat.Caller, params tickets.CreateParams) (database.Ticket, error)
}

type MessengerDeps struct {
	Repo       database.MessengerRepository
	ChatServer *server.ChatServer
	Registry   *connections.Registry
	Chat       ChatService
	Tickets    TicketService
	Tokens     *auth.Tokens
}

// MessengerApp serves the chat websocket and the HTTP API.
type MessengerApp struct {
	MessengerDeps
	log            *log.Logger
	srv            *http.Server
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewMessengerApp(mux *http.ServeMux, logger *log.Logger, deps MessengerDeps, cfg *config.Config) *MessengerApp {
	s := &MessengerApp{
		MessengerDeps:  deps,
		log:            logger,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /api/chats/{id}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/chats/{id}/close", s.authMiddleware(s.closeChat))
	mux.HandleFunc("POST /api/chats/{id}/open", s.authMiddleware(s.openChat))
	mux.HandleFunc("PUT /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("GET /api/unread", s.authMiddleware(s.unreadCounters))
	mux.HandleFunc("POST /api/tickets", s.authMiddleware(s.createTicket))
	mux.HandleFunc("GET /api/tickets/statistics", s.supervisorOnly(s.ticketStatistics))
	mux.HandleFunc("GET /api/tickets/counters", s.authMiddleware(s.ticketCounters))
	mux.HandleFunc("POST /api/tickets/{id}/take", s.authMiddleware(s.takeTicket))
	mux.HandleFunc("POST /api/tickets/{id}/close", s.authMiddleware(s.closeTicket))
	mux.HandleFunc("POST /api/tickets/{id}/confirm", s.authMiddleware(s.confirmTicket))
	mux.HandleFunc("POST /api/tickets/{id}/reopen", s.authMiddleware(s.reopenTicket))

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: withMiddleware(logger, mux, cfg.AllowedOrigins, cfg.TrustedProxies),
	}
	return s
}

// withMiddleware wraps h with CORS, forwarded address resolution for
// trusted proxies and panic recovery.
func withMiddleware(logger *log.Logger, h http.Handler, allowedOrigins []string, trustedProxies []*net.IPNet) http.Handler {
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	h = trustedProxyHeaders(trustedProxies, h)
	return errorHandler(logger, h)
}

func (s *MessengerApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.allowedOrigins, origin)
}

func (s *MessengerApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *MessengerApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
