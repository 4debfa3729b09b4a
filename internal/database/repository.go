package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type MessengerRepository interface {
	Ping(ctx context.Context) error

	GetChatById(ctx context.Context, chatId int64) (Chat, error)
	GetChatPermissions(ctx context.Context, chatId, userId int64) (ChatPermissions, error)
	GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error)
	GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error)
	GetChatIdBetweenUsers(ctx context.Context, userId, otherUserId int64) (int64, error)
	GetOrCreatePersonalChat(ctx context.Context, params PersonalChatParams) (Chat, bool, error)
	CloseChat(ctx context.Context, chatId int64, version int) (Chat, error)
	ReopenChat(ctx context.Context, chatId int64, version int) (Chat, error)
	CloseInactivePersonalChats(ctx context.Context, before time.Time, limit int) ([]int64, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessageById(ctx context.Context, messageId int64) (Message, error)
	GetMessages(ctx context.Context, chatId, userId, before int64, limit int) ([]Message, error)
	UpdateMessageContent(ctx context.Context, messageId, senderId int64, content types.MessageContent) (Message, error)
	SoftDeleteMessage(ctx context.Context, messageId, senderId int64) (Message, error)

	MarkRead(ctx context.Context, chatId, userId, messageId int64) (bool, error)
	MarkReceived(ctx context.Context, chatId, userId, messageId int64) (bool, error)
	CountUnreadByChat(ctx context.Context, userId int64, chatIds ...int64) (map[int64]int64, error)
	CountUnreadByChatType(ctx context.Context, userId int64) (map[types.ChatType]int64, error)

	AddReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error)
	RemoveReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error)

	GetTicketById(ctx context.Context, ticketId int64) (Ticket, error)
	CreateTicket(ctx context.Context, params CreateTicketParams) (CreatedTicket, error)
	TransitionTicket(ctx context.Context, params TransitionTicketParams) (TicketTransition, error)
	CountTicketsByStatus(ctx context.Context, status *types.TicketStatus, assignedTo *int64) (map[types.TicketStatus]int64, error)
	GetTicketStats(ctx context.Context, params TicketStatsParams) (TicketStats, error)
}
