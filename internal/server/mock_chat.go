package server

import (
	"context"

	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) SendMessage(ctx context.Context, caller chat.Caller, cmd *protocol.SendMessage) (*protocol.MessageSent, error) {
	args := m.Called(caller, cmd)
	if sent, ok := args.Get(0).(*protocol.MessageSent); ok {
		return sent, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatService) SendActivity(ctx context.Context, caller chat.Caller, cmd *protocol.SendActivity) error {
	return m.Called(caller, cmd).Error(0)
}

func (m *MockChatService) SendReaction(ctx context.Context, caller chat.Caller, cmd *protocol.SendReaction) error {
	return m.Called(caller, cmd).Error(0)
}

func (m *MockChatService) MarkRead(ctx context.Context, caller chat.Caller, cmd *protocol.MarkRead) error {
	return m.Called(caller, cmd).Error(0)
}

func (m *MockChatService) MarkReceived(ctx context.Context, caller chat.Caller, cmd *protocol.MarkReceived) error {
	return m.Called(caller, cmd).Error(0)
}

func (m *MockChatService) EditMessage(ctx context.Context, caller chat.Caller, cmd *protocol.EditMessage) (types.Message, error) {
	args := m.Called(caller, cmd)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockChatService) DeleteMessage(ctx context.Context, caller chat.Caller, cmd *protocol.DeleteMessage) error {
	return m.Called(caller, cmd).Error(0)
}

// NopActivity discards presence updates.
type NopActivity struct{}

func (NopActivity) UserActive(context.Context, presence.UserRef) {}
