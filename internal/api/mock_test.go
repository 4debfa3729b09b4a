package api

import (
	"context"
	"time"

	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/tickets"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/mock"
)

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) GetHistory(ctx context.Context, caller chat.Caller, chatId, before int64, limit int) ([]types.Message, error) {
	args := m.Called(ctx, caller, chatId, before, limit)
	msgs, _ := args.Get(0).([]types.Message)
	return msgs, args.Error(1)
}

func (m *mockChatService) CloseChat(ctx context.Context, caller chat.Caller, chatId int64) error {
	return m.Called(ctx, caller, chatId).Error(0)
}

func (m *mockChatService) ReopenChat(ctx context.Context, caller chat.Caller, chatId int64) error {
	return m.Called(ctx, caller, chatId).Error(0)
}

func (m *mockChatService) EditMessage(ctx context.Context, caller chat.Caller, cmd *protocol.EditMessage) (types.Message, error) {
	args := m.Called(ctx, caller, cmd)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *mockChatService) DeleteMessage(ctx context.Context, caller chat.Caller, cmd *protocol.DeleteMessage) error {
	return m.Called(ctx, caller, cmd).Error(0)
}

func (m *mockChatService) UnreadCounters(ctx context.Context, caller chat.Caller) (types.UnreadCounters, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(types.UnreadCounters), args.Error(1)
}

type mockTicketService struct {
	mock.Mock
}

func (m *mockTicketService) TakeIntoWork(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	args := m.Called(ctx, caller, ticketId)
	return args.Get(0).(database.Ticket), args.Error(1)
}

func (m *mockTicketService) Close(ctx context.Context, caller chat.Caller, ticketId int64, reason types.TicketCloseReason, comment string) (database.Ticket, error) {
	args := m.Called(ctx, caller, ticketId, reason, comment)
	return args.Get(0).(database.Ticket), args.Error(1)
}

func (m *mockTicketService) Confirm(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	args := m.Called(ctx, caller, ticketId)
	return args.Get(0).(database.Ticket), args.Error(1)
}

func (m *mockTicketService) Reopen(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	args := m.Called(ctx, caller, ticketId)
	return args.Get(0).(database.Ticket), args.Error(1)
}

func (m *mockTicketService) Stats(ctx context.Context, forUserId *int64, from, to time.Time) (types.TicketStats, error) {
	args := m.Called(ctx, forUserId, from, to)
	return args.Get(0).(types.TicketStats), args.Error(1)
}

func (m *mockTicketService) Counters(ctx context.Context, caller chat.Caller, status *types.TicketStatus) (map[types.TicketStatus]int64, error) {
	args := m.Called(ctx, caller, status)
	counts, _ := args.Get(0).(map[types.TicketStatus]int64)
	return counts, args.Error(1)
}

func (m *mockTicketService) Create(ctx context.Context, caller chat.Caller, params tickets.CreateParams) (database.Ticket, error) {
	args := m.Called(ctx, caller, params)
	return args.Get(0).(database.Ticket), args.Error(1)
}
