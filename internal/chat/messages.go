package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/push"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// SendMessage stores a message from the caller and fans it out. When the
// command names a recipient instead of a chat, the personal chat between
// the two users is used, created on first contact.
func (s *Service) SendMessage(ctx context.Context, caller Caller, cmd *protocol.SendMessage) (*protocol.MessageSent, error) {
	if err := cmd.Content.Validate(); err != nil {
		return nil, errs.Validation("%v", err)
	}

	chatId := cmd.ChatId
	switch {
	case chatId == 0 && cmd.RecipientId == 0:
		return nil, errs.Validation("either chat_id or recipient_id is required")
	case chatId == 0:
		id, err := s.personalChat(ctx, caller, cmd.RecipientId)
		if err != nil {
			return nil, err
		}
		chatId = id
	}

	if _, err := s.requireWrite(ctx, chatId, caller); err != nil {
		return nil, err
	}

	if cmd.ReplyTo != nil {
		parent, err := s.repo.GetMessageById(ctx, *cmd.ReplyTo)
		if err != nil || parent.ChatId != chatId {
			return nil, errs.Validation("reply_to %d is not a message of chat %d", *cmd.ReplyTo, chatId)
		}
	}

	senderId := caller.UserId
	stored, err := s.repo.CreateMessage(ctx, database.CreateMessageParams{
		ChatId:         chatId,
		SenderId:       &senderId,
		Content:        cmd.Content,
		DeliveryStatus: types.DeliveryStatusSent,
		ReplyTo:        cmd.ReplyTo,
	})
	if err != nil {
		return nil, errs.FromStorage(fmt.Sprintf("send message to chat %d", chatId), err)
	}
	s.Stats.Incr(stats.MessagesSent)

	msg := stored.ToType()
	msg.TemporaryId = cmd.TemporaryId
	s.publish(ctx, &updates.MessageSent{Message: msg}, caller.ConnectionId)
	s.Presence.UserActiveInChat(ctx, caller.ref(), chatId)

	s.notifyRecipients(ctx, msg)

	return &protocol.MessageSent{
		TemporaryId: cmd.TemporaryId,
		MessageId:   msg.Id,
		ChatId:      chatId,
	}, nil
}

// notifyRecipients bumps unread counters of the other members and queues
// push notifications for those without a live connection.
func (s *Service) notifyRecipients(ctx context.Context, msg types.Message) {
	var senderId int64
	if msg.SenderId != nil {
		senderId = *msg.SenderId
	}

	others, err := s.otherMembers(ctx, msg.ChatId, senderId)
	if err != nil {
		s.log.Printf("chat: members of chat %d: %v", msg.ChatId, err)
		return
	}
	if len(others) == 0 {
		return
	}

	s.Unread.IncrementForUsers(ctx, msg.ChatId, others)

	if msg.Content.IsNotification() {
		return
	}

	online, err := s.Online.GetOnlineUserIds(ctx, others)
	if err != nil {
		s.log.Printf("chat: online members of chat %d: %v", msg.ChatId, err)
		return
	}

	var notifications []push.Notification
	for _, userId := range others {
		if slices.Contains(online, userId) {
			continue
		}
		notifications = append(notifications, push.Notification{
			UserId:    userId,
			ChatId:    msg.ChatId,
			MessageId: msg.Id,
			SenderId:  msg.SenderId,
			Kind:      msg.Content.Kind(),
			Text:      msg.Content.PreviewText(),
			CreatedAt: msg.CreatedAt,
		})
	}
	s.Push.Enqueue(ctx, notifications...)
}

// personalChat resolves the personal chat with recipientId. Only
// supervisors may open a chat with someone they have never talked to.
func (s *Service) personalChat(ctx context.Context, caller Caller, recipientId int64) (int64, error) {
	if recipientId == caller.UserId {
		return 0, errs.Validation("cannot message yourself")
	}

	chatId, err := s.repo.GetChatIdBetweenUsers(ctx, caller.UserId, recipientId)
	if err == nil {
		return chatId, nil
	}
	if err = errs.FromStorage("find personal chat", err); !errors.Is(err, errs.ErrNotFound) {
		return 0, err
	}

	if caller.Role != types.RoleSupervisor {
		return 0, errs.NotPermitted("only supervisors can start a personal chat")
	}

	chat, created, err := s.repo.GetOrCreatePersonalChat(ctx, database.PersonalChatParams{
		InitiatorId:   caller.UserId,
		InitiatorRole: caller.Role,
		RecipientId:   recipientId,
	})
	if err != nil {
		return 0, errs.Server("create personal chat", err)
	}

	if created {
		s.PostSystemMessage(ctx, chat.Id, types.MessageContent{
			ChatCreated: &types.ChatCreatedNotification{CreatedBy: caller.UserId},
		})
	}
	return chat.Id, nil
}

// PostSystemMessage stores a message without a sender and fans it out.
func (s *Service) PostSystemMessage(ctx context.Context, chatId int64, content types.MessageContent) (types.Message, error) {
	stored, err := s.repo.CreateMessage(ctx, database.CreateMessageParams{
		ChatId:         chatId,
		Content:        content,
		DeliveryStatus: types.DeliveryStatusSent,
	})
	if err != nil {
		s.log.Printf("chat: post %s to chat %d: %v", content.Kind(), chatId, err)
		return types.Message{}, err
	}

	msg := stored.ToType()
	s.publish(ctx, &updates.MessageSent{Message: msg}, "")
	s.notifyRecipients(ctx, msg)
	return msg, nil
}

func (s *Service) EditMessage(ctx context.Context, caller Caller, cmd *protocol.EditMessage) (types.Message, error) {
	if err := cmd.Content.Validate(); err != nil {
		return types.Message{}, errs.Validation("%v", err)
	}

	stored, err := s.repo.UpdateMessageContent(ctx, cmd.MessageId, caller.UserId, cmd.Content)
	if err != nil {
		return types.Message{}, errs.FromStorage(fmt.Sprintf("edit message %d", cmd.MessageId), err)
	}

	msg := stored.ToType()
	s.publish(ctx, &updates.MessageEdited{Message: msg}, "")
	return msg, nil
}

// DeleteMessage soft-deletes the caller's message. Its id stays valid as a
// history cursor. Recipients' unread counts for the chat are recomputed
// since the message may still have been unread.
func (s *Service) DeleteMessage(ctx context.Context, caller Caller, cmd *protocol.DeleteMessage) error {
	stored, err := s.repo.SoftDeleteMessage(ctx, cmd.MessageId, caller.UserId)
	if err != nil {
		return errs.FromStorage(fmt.Sprintf("delete message %d", cmd.MessageId), err)
	}

	s.publish(ctx, &updates.MessageDeleted{MessageDeleted: protocol.MessageDeleted{
		ChatId:    stored.ChatId,
		MessageId: stored.Id,
	}}, "")

	others, err := s.otherMembers(ctx, stored.ChatId, caller.UserId)
	if err != nil {
		s.log.Printf("chat: members of chat %d: %v", stored.ChatId, err)
		return nil
	}
	for _, userId := range others {
		s.Unread.ResetChat(ctx, userId, stored.ChatId)
	}
	return nil
}

// GetHistory pages backwards through the chat starting before the given
// message id, or from the newest message when before is 0.
func (s *Service) GetHistory(ctx context.Context, caller Caller, chatId, before int64, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := s.requireRead(ctx, chatId, caller); err != nil {
		return nil, err
	}

	rows, err := s.repo.GetMessages(ctx, chatId, caller.UserId, before, limit)
	if err != nil {
		return nil, errs.Server("get messages", err)
	}

	messages := make([]types.Message, len(rows))
	for i, row := range rows {
		messages[i] = row.ToType()
	}
	return messages, nil
}
