package chat

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
)

const maxEmojiLength = 32

// SendActivity records that the caller is active in the chat and, at most
// once per throttle interval, tells the other members that they are typing.
func (s *Service) SendActivity(ctx context.Context, caller Caller, cmd *protocol.SendActivity) error {
	p, err := s.permissions(ctx, cmd.ChatId, caller.UserId)
	if err != nil {
		return err
	}
	if !p.IsMember {
		return errs.NotPermitted("user %d is not a member of chat %d", caller.UserId, cmd.ChatId)
	}

	s.Presence.UserActiveInChat(ctx, caller.ref(), cmd.ChatId)

	if !cmd.IsTyping || !s.Typing.Allow(ctx, fmt.Sprintf("%d:%d", caller.UserId, cmd.ChatId)) {
		return nil
	}

	s.publish(ctx, &updates.UserIsTyping{UserIsTyping: protocol.UserIsTyping{
		ChatId: cmd.ChatId,
		UserId: caller.UserId,
	}}, caller.ConnectionId)
	return nil
}

// SendReaction adds or removes the caller's reaction. Adding the same
// reaction twice leaves a single reaction.
func (s *Service) SendReaction(ctx context.Context, caller Caller, cmd *protocol.SendReaction) error {
	if cmd.Emoji == "" || utf8.RuneCountInString(cmd.Emoji) > maxEmojiLength {
		return errs.Validation("emoji must be between 1 and %d characters", maxEmojiLength)
	}

	msg, err := s.repo.GetMessageById(ctx, cmd.MessageId)
	if err != nil {
		if err = errs.FromStorage("get message", err); errs.IsClientError(err) {
			return errs.NotPermitted("message %d is not visible", cmd.MessageId)
		}
		return err
	}
	if msg.DeletedAt.Valid {
		return errs.NotPermitted("message %d is not visible", cmd.MessageId)
	}
	if _, err := s.requireRead(ctx, msg.ChatId, caller); err != nil {
		return errs.NotPermitted("message %d is not visible", cmd.MessageId)
	}

	var count int
	if cmd.IsDeleted {
		count, err = s.repo.RemoveReaction(ctx, msg.Id, caller.UserId, cmd.Emoji)
	} else {
		count, err = s.repo.AddReaction(ctx, msg.Id, caller.UserId, cmd.Emoji)
	}
	if err != nil {
		return errs.Server("update reaction", err)
	}

	s.publish(ctx, &updates.ReactionUpdated{ReactionUpdated: protocol.ReactionUpdated{
		MessageId:  msg.Id,
		ChatId:     msg.ChatId,
		UserId:     caller.UserId,
		Emoji:      cmd.Emoji,
		EmojiCount: count,
		IsDeleted:  cmd.IsDeleted,
	}}, "")
	return nil
}

// MarkRead moves the caller's read cursor to the message. Cursors never
// move backwards, and nothing is announced when the cursor did not move.
func (s *Service) MarkRead(ctx context.Context, caller Caller, cmd *protocol.MarkRead) error {
	advanced, err := s.advanceCursor(ctx, caller, cmd.ChatId, cmd.MessageId, types.DeliveryStatusRead)
	if err != nil || !advanced {
		return err
	}

	s.Unread.ResetChat(ctx, caller.UserId, cmd.ChatId)
	return nil
}

func (s *Service) MarkReceived(ctx context.Context, caller Caller, cmd *protocol.MarkReceived) error {
	_, err := s.advanceCursor(ctx, caller, cmd.ChatId, cmd.MessageId, types.DeliveryStatusDelivered)
	return err
}

func (s *Service) advanceCursor(ctx context.Context, caller Caller, chatId, messageId int64, status types.DeliveryStatus) (bool, error) {
	if _, err := s.requireRead(ctx, chatId, caller); err != nil {
		return false, err
	}

	var (
		advanced bool
		err      error
	)
	if status == types.DeliveryStatusRead {
		advanced, err = s.repo.MarkRead(ctx, chatId, caller.UserId, messageId)
	} else {
		advanced, err = s.repo.MarkReceived(ctx, chatId, caller.UserId, messageId)
	}
	if err != nil {
		return false, errs.Server("advance cursor", err)
	}
	if !advanced {
		return false, nil
	}

	s.Presence.UserActiveInChat(ctx, caller.ref(), chatId)
	s.publish(ctx, &updates.DeliveryStatusChanged{DeliveryStatusChanged: protocol.DeliveryStatusChanged{
		ChatId:    chatId,
		UserId:    caller.UserId,
		MessageId: messageId,
		Status:    status,
	}}, "")
	return true, nil
}
