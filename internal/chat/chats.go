package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
)

// CloseChat closes a personal chat the caller belongs to.
func (s *Service) CloseChat(ctx context.Context, caller Caller, chatId int64) error {
	p, err := s.freshPermissions(ctx, chatId, caller)
	if err != nil {
		return err
	}
	if p.IsClosed {
		return errs.Client(errs.ErrConflict, "chat %d is already closed", chatId)
	}

	if _, err := s.repo.CloseChat(ctx, chatId, p.Version); err != nil {
		return errs.FromStorage(fmt.Sprintf("close chat %d", chatId), err)
	}

	if err := s.AnnounceChatClosed(ctx, chatId, types.CloseReasonInitiatedByUser); err != nil {
		s.log.Printf("chat: store close notification for chat %d: %v", chatId, err)
	}
	return nil
}

// AnnounceChatClosed tells the members of an already closed chat about
// it and leaves a notification in the history. The error reports a
// notification that could not be stored; the chat stays closed.
func (s *Service) AnnounceChatClosed(ctx context.Context, chatId int64, reason types.ChatCloseReason) error {
	s.invalidatePermissions(ctx, chatId)
	s.publish(ctx, &updates.ChatClosed{ChatClosed: protocol.ChatClosed{ChatId: chatId, Reason: reason}}, "")
	_, err := s.PostSystemMessage(ctx, chatId, types.MessageContent{
		ChatClosed: &types.ChatClosedNotification{Reason: reason},
	})
	return err
}

func (s *Service) ReopenChat(ctx context.Context, caller Caller, chatId int64) error {
	p, err := s.freshPermissions(ctx, chatId, caller)
	if err != nil {
		return err
	}
	if !p.IsClosed {
		return errs.Client(errs.ErrConflict, "chat %d is open", chatId)
	}

	if _, err := s.repo.ReopenChat(ctx, chatId, p.Version); err != nil {
		return errs.FromStorage(fmt.Sprintf("reopen chat %d", chatId), err)
	}

	s.invalidatePermissions(ctx, chatId)
	s.publish(ctx, &updates.ChatOpened{ChatOpened: protocol.ChatOpened{ChatId: chatId}}, "")
	s.PostSystemMessage(ctx, chatId, types.MessageContent{
		ChatOpened: &types.ChatOpenedNotification{OpenedBy: caller.UserId},
	})
	return nil
}

// freshPermissions bypasses the cache: closing needs the current version.
func (s *Service) freshPermissions(ctx context.Context, chatId int64, caller Caller) (p database.ChatPermissions, err error) {
	p, err = s.repo.GetChatPermissions(ctx, chatId, caller.UserId)
	if err != nil {
		return p, errs.FromStorage(fmt.Sprintf("chat %d", chatId), err)
	}
	if !p.IsMember {
		return p, errs.NotPermitted("user %d is not a member of chat %d", caller.UserId, chatId)
	}
	if p.ChatType != types.ChatTypePersonal {
		return p, errs.NotPermitted("only personal chats can be closed or reopened")
	}
	return p, nil
}

// MembershipChanged drops the cached member list and permissions of a chat.
func (s *Service) MembershipChanged(ctx context.Context, chatId int64) {
	if inv, ok := s.Members.(interface {
		Invalidate(ctx context.Context, chatId int64)
	}); ok {
		inv.Invalidate(ctx, chatId)
	}
	s.invalidatePermissions(ctx, chatId)
}
