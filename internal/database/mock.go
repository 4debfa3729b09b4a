package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessengerRepository struct {
	mock.Mock
}

func (m *MockMessengerRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessengerRepository) GetChatById(ctx context.Context, chatId int64) (Chat, error) {
	args := m.Called(chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) GetChatPermissions(ctx context.Context, chatId, userId int64) (ChatPermissions, error) {
	args := m.Called(chatId, userId)
	return args.Get(0).(ChatPermissions), args.Error(1)
}
func (m *MockMessengerRepository) GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error) {
	args := m.Called(chatId)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error) {
	args := m.Called(userId)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) GetChatIdBetweenUsers(ctx context.Context, userId, otherUserId int64) (int64, error) {
	args := m.Called(userId, otherUserId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMessengerRepository) GetOrCreatePersonalChat(ctx context.Context, params PersonalChatParams) (Chat, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Bool(1), args.Error(2)
}
func (m *MockMessengerRepository) CloseChat(ctx context.Context, chatId int64, version int) (Chat, error) {
	args := m.Called(chatId, version)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) ReopenChat(ctx context.Context, chatId int64, version int) (Chat, error) {
	args := m.Called(chatId, version)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) CloseInactivePersonalChats(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	args := m.Called(before, limit)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessengerRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) GetMessageById(ctx context.Context, messageId int64) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) GetMessages(ctx context.Context, chatId, userId, before int64, limit int) ([]Message, error) {
	args := m.Called(chatId, userId, before, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) UpdateMessageContent(ctx context.Context, messageId, senderId int64, content types.MessageContent) (Message, error) {
	args := m.Called(messageId, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) SoftDeleteMessage(ctx context.Context, messageId, senderId int64) (Message, error) {
	args := m.Called(messageId, senderId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockMessengerRepository) MarkRead(ctx context.Context, chatId, userId, messageId int64) (bool, error) {
	args := m.Called(chatId, userId, messageId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMessengerRepository) MarkReceived(ctx context.Context, chatId, userId, messageId int64) (bool, error) {
	args := m.Called(chatId, userId, messageId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMessengerRepository) CountUnreadByChat(ctx context.Context, userId int64, chatIds ...int64) (map[int64]int64, error) {
	args := m.Called(userId, chatIds)
	if counts, ok := args.Get(0).(map[int64]int64); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) CountUnreadByChatType(ctx context.Context, userId int64) (map[types.ChatType]int64, error) {
	args := m.Called(userId)
	if counts, ok := args.Get(0).(map[types.ChatType]int64); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessengerRepository) AddReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error) {
	args := m.Called(messageId, userId, emoji)
	return args.Int(0), args.Error(1)
}
func (m *MockMessengerRepository) RemoveReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error) {
	args := m.Called(messageId, userId, emoji)
	return args.Int(0), args.Error(1)
}

func (m *MockMessengerRepository) GetTicketById(ctx context.Context, ticketId int64) (Ticket, error) {
	args := m.Called(ticketId)
	return args.Get(0).(Ticket), args.Error(1)
}
func (m *MockMessengerRepository) CreateTicket(ctx context.Context, params CreateTicketParams) (CreatedTicket, error) {
	args := m.Called(params)
	return args.Get(0).(CreatedTicket), args.Error(1)
}
func (m *MockMessengerRepository) TransitionTicket(ctx context.Context, params TransitionTicketParams) (TicketTransition, error) {
	args := m.Called(params)
	return args.Get(0).(TicketTransition), args.Error(1)
}
func (m *MockMessengerRepository) CountTicketsByStatus(ctx context.Context, status *types.TicketStatus, assignedTo *int64) (map[types.TicketStatus]int64, error) {
	args := m.Called(status, assignedTo)
	if counts, ok := args.Get(0).(map[types.TicketStatus]int64); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) GetTicketStats(ctx context.Context, params TicketStatsParams) (TicketStats, error) {
	args := m.Called(params)
	return args.Get(0).(TicketStats), args.Error(1)
}
