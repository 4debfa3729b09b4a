package protocol

import (
	"github.com/npezzotti/go-messenger/internal/types"
)

type MessageType byte

// Client commands.
const (
	TypeSendMessage MessageType = iota + 1
	TypeSendActivity
	TypeSendReaction
	TypeMarkRead
	TypeMarkReceived
	TypeEditMessage
	TypeDeleteMessage
	TypeSubscribe
	TypeUnsubscribe
)

// Server updates.
const (
	TypeMessageSent MessageType = iota + 64
	TypeNewMessage
	TypeMessageSendFailed
	TypeReactionUpdated
	TypePresenceStatusChanged
	TypeUserIsTyping
	TypeUnreadCountersUpdate
	TypeDeliveryStatusChanged
	TypeChatClosed
	TypeChatOpened
	TypeMessageEdited
	TypeMessageDeleted
	TypeTicketStatusChanged
	TypeErrorOccurred
)

type Message interface {
	Type() MessageType
}

type SendMessage struct {
	TemporaryId string               `json:"temporary_id"`
	ChatId      int64                `json:"chat_id,omitempty"`
	RecipientId int64                `json:"recipient_id,omitempty"`
	Content     types.MessageContent `json:"content"`
	ReplyTo     *int64               `json:"reply_to,omitempty"`
}

type SendActivity struct {
	ChatId   int64 `json:"chat_id"`
	IsTyping bool  `json:"is_typing"`
}

type SendReaction struct {
	MessageId int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
	IsDeleted bool   `json:"is_deleted"`
}

type MarkRead struct {
	ChatId    int64 `json:"chat_id"`
	MessageId int64 `json:"message_id"`
}

type MarkReceived struct {
	ChatId    int64 `json:"chat_id"`
	MessageId int64 `json:"message_id"`
}

type EditMessage struct {
	MessageId int64                `json:"message_id"`
	Content   types.MessageContent `json:"content"`
}

type DeleteMessage struct {
	MessageId int64 `json:"message_id"`
}

type Subscribe struct {
	UserIds []int64 `json:"user_ids"`
}

type Unsubscribe struct {
	UserIds []int64 `json:"user_ids"`
}

type MessageSent struct {
	TemporaryId string `json:"temporary_id"`
	MessageId   int64  `json:"message_id"`
	ChatId      int64  `json:"chat_id"`
}

type NewMessage struct {
	Message types.Message `json:"message"`
}

type MessageSendFailed struct {
	TemporaryId string `json:"temporary_id"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type ReactionUpdated struct {
	MessageId  int64  `json:"message_id"`
	ChatId     int64  `json:"chat_id"`
	UserId     int64  `json:"user_id"`
	Emoji      string `json:"emoji"`
	EmojiCount int    `json:"emoji_count"`
	IsDeleted  bool   `json:"is_deleted"`
}

type PresenceStatusChanged struct {
	UserId   int64 `json:"user_id"`
	IsOnline bool  `json:"is_online"`
}

type UserIsTyping struct {
	ChatId int64 `json:"chat_id"`
	UserId int64 `json:"user_id"`
}

type UnreadCountersUpdate struct {
	UserId      int64 `json:"user_id"`
	UnreadCount int64 `json:"unread_count"`
}

type DeliveryStatusChanged struct {
	ChatId    int64                `json:"chat_id"`
	UserId    int64                `json:"user_id"`
	MessageId int64                `json:"message_id"`
	Status    types.DeliveryStatus `json:"status"`
}

type ChatClosed struct {
	ChatId int64                 `json:"chat_id"`
	Reason types.ChatCloseReason `json:"reason"`
}

type ChatOpened struct {
	ChatId int64 `json:"chat_id"`
}

type MessageEdited struct {
	Message types.Message `json:"message"`
}

type MessageDeleted struct {
	ChatId    int64 `json:"chat_id"`
	MessageId int64 `json:"message_id"`
}

type TicketStatusChanged struct {
	TicketId  int64              `json:"ticket_id"`
	ChatId    int64              `json:"chat_id"`
	OldStatus types.TicketStatus `json:"old_status"`
	NewStatus types.TicketStatus `json:"new_status"`
	ChangedBy int64              `json:"changed_by"`
}

type ErrorReason string

const (
	ReasonClient ErrorReason = "client"
	ReasonServer ErrorReason = "server"
)

type ErrorOccurred struct {
	Reason      ErrorReason `json:"reason"`
	Code        string      `json:"code,omitempty"`
	Description string      `json:"description"`
}

func (*SendMessage) Type() MessageType   { return TypeSendMessage }
func (*SendActivity) Type() MessageType  { return TypeSendActivity }
func (*SendReaction) Type() MessageType  { return TypeSendReaction }
func (*MarkRead) Type() MessageType      { return TypeMarkRead }
func (*MarkReceived) Type() MessageType  { return TypeMarkReceived }
func (*EditMessage) Type() MessageType   { return TypeEditMessage }
func (*DeleteMessage) Type() MessageType { return TypeDeleteMessage }
func (*Subscribe) Type() MessageType     { return TypeSubscribe }
func (*Unsubscribe) Type() MessageType   { return TypeUnsubscribe }

func (*MessageSent) Type() MessageType           { return TypeMessageSent }
func (*NewMessage) Type() MessageType            { return TypeNewMessage }
func (*MessageSendFailed) Type() MessageType     { return TypeMessageSendFailed }
func (*ReactionUpdated) Type() MessageType       { return TypeReactionUpdated }
func (*PresenceStatusChanged) Type() MessageType { return TypePresenceStatusChanged }
func (*UserIsTyping) Type() MessageType          { return TypeUserIsTyping }
func (*UnreadCountersUpdate) Type() MessageType  { return TypeUnreadCountersUpdate }
func (*DeliveryStatusChanged) Type() MessageType { return TypeDeliveryStatusChanged }
func (*ChatClosed) Type() MessageType            { return TypeChatClosed }
func (*ChatOpened) Type() MessageType            { return TypeChatOpened }
func (*MessageEdited) Type() MessageType         { return TypeMessageEdited }
func (*MessageDeleted) Type() MessageType        { return TypeMessageDeleted }
func (*TicketStatusChanged) Type() MessageType   { return TypeTicketStatusChanged }
func (*ErrorOccurred) Type() MessageType         { return TypeErrorOccurred }
