package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/tickets"
	"github.com/npezzotti/go-messenger/internal/types"
)

const dateLayout = "2006-01-02"

type EditMessageRequest struct {
	Content types.MessageContent `json:"content"`
}

type CloseTicketRequest struct {
	Reason  types.TicketCloseReason `json:"reason"`
	Comment string                  `json:"comment"`
}

type TicketResponse struct {
	Id                int64                    `json:"id"`
	Status            string                   `json:"status"`
	ChatId            int64                    `json:"chat_id"`
	CreatedFromChatId *int64                   `json:"created_from_chat_id,omitempty"`
	AssignedToUserId  *int64                   `json:"assigned_to_user_id,omitempty"`
	CloseReason       *types.TicketCloseReason `json:"close_reason,omitempty"`
	Comment           string                   `json:"comment,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         *time.Time               `json:"updated_at,omitempty"`
}

func newTicketResponse(t database.Ticket) TicketResponse {
	resp := TicketResponse{
		Id:        t.Id,
		Status:    t.Status.String(),
		ChatId:    t.ChatId,
		Comment:   t.Comment,
		CreatedAt: t.CreatedAt,
	}
	if t.CreatedFromChatId.Valid {
		resp.CreatedFromChatId = &t.CreatedFromChatId.Int64
	}
	if t.AssignedToUserId.Valid {
		resp.AssignedToUserId = &t.AssignedToUserId.Int64
	}
	if t.CloseReason.Valid {
		reason := types.TicketCloseReason(t.CloseReason.Int64)
		resp.CloseReason = &reason
	}
	if t.UpdatedAt.Valid {
		resp.UpdatedAt = &t.UpdatedAt.Time
	}
	return resp
}

func writeJson(logger *log.Logger, w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("json encode: %v", err)
	}
}

func (s *MessengerApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := fromError(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJson(s.log, w, errResp.StatusCode, errResp)
}

func callerFrom(ctx context.Context) (chat.Caller, bool) {
	user, ok := auth.User(ctx)
	if !ok {
		return chat.Caller{}, false
	}
	return chat.Caller{UserId: user.Id, Role: user.Role}, true
}

// withCaller resolves the authenticated caller and the {id} path value.
func (s *MessengerApp) withCaller(w http.ResponseWriter, r *http.Request) (chat.Caller, int64, bool) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return caller, 0, false
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return caller, 0, false
	}

	return caller, id, true
}

func (s *MessengerApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.Repo.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *MessengerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.User(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}
	ip := clientIP(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	if s.Registry.OverLimit(r.Context(), ip) {
		s.log.Printf("refusing connection of user %d: too many connections from %s", user.Id, ip)
		connections.Reject(conn, connections.ClosePolicyViolation, errs.ErrTooManyConnections.Error())
		return
	}

	client := server.NewClient(r.Context(), user, ip, conn, s.ChatServer, s.log)
	if err := s.ChatServer.Serve(r.Context(), client); err != nil {
		s.log.Printf("serve connection of user %d: %v", user.Id, err)
	}
}

func (s *MessengerApp) getMessages(w http.ResponseWriter, r *http.Request) {
	caller, chatId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	var before int64
	var limit int
	var err error

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.ParseInt(beforeStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.Chat.GetHistory(r.Context(), caller, chatId, before, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []types.Message{}
	}

	writeJson(s.log, w, http.StatusOK, messages)
}

func (s *MessengerApp) closeChat(w http.ResponseWriter, r *http.Request) {
	caller, chatId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	if err := s.Chat.CloseChat(r.Context(), caller, chatId); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) openChat(w http.ResponseWriter, r *http.Request) {
	caller, chatId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	if err := s.Chat.ReopenChat(r.Context(), caller, chatId); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) editMessage(w http.ResponseWriter, r *http.Request) {
	caller, messageId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.Chat.EditMessage(r.Context(), caller, &protocol.EditMessage{MessageId: messageId, Content: req.Content})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJson(s.log, w, http.StatusOK, msg)
}

func (s *MessengerApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	caller, messageId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	if err := s.Chat.DeleteMessage(r.Context(), caller, &protocol.DeleteMessage{MessageId: messageId}); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, value)
}

func (s *MessengerApp) ticketStatistics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseDate(query.Get("date_from"))
	if err != nil {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}
	to, err := parseDate(query.Get("date_to"))
	if err != nil {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	var forUserId *int64
	if userIdStr := query.Get("for_user_id"); userIdStr != "" {
		userId, err := strconv.ParseInt(userIdStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}
		forUserId = &userId
	}

	stats, err := s.Tickets.Stats(r.Context(), forUserId, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJson(s.log, w, http.StatusOK, stats)
}

func (s *MessengerApp) ticketCounters(w http.ResponseWriter, r *http.Request) {
	var status *types.TicketStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		n, err := strconv.Atoi(statusStr)
		if err != nil {
			errResp := NewBadRequestError()
			writeJson(s.log, w, errResp.StatusCode, errResp)
			return
		}
		st := types.TicketStatus(n)
		status = &st
	}

	caller, ok := callerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.Tickets.Counters(r.Context(), caller, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make(map[string]int64, len(counts))
	for st, n := range counts {
		resp[st.String()] = n
	}
	writeJson(s.log, w, http.StatusOK, resp)
}

func (s *MessengerApp) createTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	var req tickets.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	ticket, err := s.Tickets.Create(r.Context(), caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJson(s.log, w, http.StatusCreated, newTicketResponse(ticket))
}

func (s *MessengerApp) unreadCounters(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	counters, err := s.Chat.UnreadCounters(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJson(s.log, w, http.StatusOK, counters)
}

type ticketTransition func(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error)

func (s *MessengerApp) transitionTicket(w http.ResponseWriter, r *http.Request, transition ticketTransition) {
	caller, ticketId, ok := s.withCaller(w, r)
	if !ok {
		return
	}

	ticket, err := transition(r.Context(), caller, ticketId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJson(s.log, w, http.StatusOK, newTicketResponse(ticket))
}

func (s *MessengerApp) takeTicket(w http.ResponseWriter, r *http.Request) {
	s.transitionTicket(w, r, s.Tickets.TakeIntoWork)
}

func (s *MessengerApp) confirmTicket(w http.ResponseWriter, r *http.Request) {
	s.transitionTicket(w, r, s.Tickets.Confirm)
}

func (s *MessengerApp) reopenTicket(w http.ResponseWriter, r *http.Request) {
	s.transitionTicket(w, r, s.Tickets.Reopen)
}

func (s *MessengerApp) closeTicket(w http.ResponseWriter, r *http.Request) {
	var req CloseTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errResp := NewBadRequestError()
		writeJson(s.log, w, errResp.StatusCode, errResp)
		return
	}

	s.transitionTicket(w, r, func(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
		return s.Tickets.Close(ctx, caller, ticketId, req.Reason, req.Comment)
	})
}
