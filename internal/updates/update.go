package updates

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

type UpdateType string

const (
	TypeMessageSent           UpdateType = "message_sent"
	TypeMessageEdited         UpdateType = "message_edited"
	TypeMessageDeleted        UpdateType = "message_deleted"
	TypeReactionUpdated       UpdateType = "reaction_updated"
	TypeDeliveryStatusChanged UpdateType = "delivery_status_changed"
	TypeUserIsTyping          UpdateType = "user_is_typing"
	TypePresenceStatusChanged UpdateType = "presence_status_changed"
	TypeChatClosed            UpdateType = "chat_closed"
	TypeChatOpened            UpdateType = "chat_opened"
	TypeTicketStatusChanged   UpdateType = "ticket_status_changed"
)

// Update is a change that every connection of the affected users must
// learn about, wherever the users are connected.
type Update interface {
	UpdateType() UpdateType
	// ChatId is the chat the update belongs to, 0 for user-scoped updates.
	ChatId() int64
	// Client is the frame delivered to connections.
	Client() protocol.Message
}

type MessageSent struct {
	Message types.Message `json:"message"`
}

func (u *MessageSent) UpdateType() UpdateType   { return TypeMessageSent }
func (u *MessageSent) ChatId() int64            { return u.Message.ChatId }
func (u *MessageSent) Client() protocol.Message { return &protocol.NewMessage{Message: u.Message} }

type MessageEdited struct {
	Message types.Message `json:"message"`
}

func (u *MessageEdited) UpdateType() UpdateType   { return TypeMessageEdited }
func (u *MessageEdited) ChatId() int64            { return u.Message.ChatId }
func (u *MessageEdited) Client() protocol.Message { return &protocol.MessageEdited{Message: u.Message} }

type MessageDeleted struct {
	protocol.MessageDeleted
}

func (u *MessageDeleted) UpdateType() UpdateType   { return TypeMessageDeleted }
func (u *MessageDeleted) ChatId() int64            { return u.MessageDeleted.ChatId }
func (u *MessageDeleted) Client() protocol.Message { return &u.MessageDeleted }

type ReactionUpdated struct {
	protocol.ReactionUpdated
}

func (u *ReactionUpdated) UpdateType() UpdateType   { return TypeReactionUpdated }
func (u *ReactionUpdated) ChatId() int64            { return u.ReactionUpdated.ChatId }
func (u *ReactionUpdated) Client() protocol.Message { return &u.ReactionUpdated }

type DeliveryStatusChanged struct {
	protocol.DeliveryStatusChanged
}

func (u *DeliveryStatusChanged) UpdateType() UpdateType   { return TypeDeliveryStatusChanged }
func (u *DeliveryStatusChanged) ChatId() int64            { return u.DeliveryStatusChanged.ChatId }
func (u *DeliveryStatusChanged) Client() protocol.Message { return &u.DeliveryStatusChanged }

type UserIsTyping struct {
	protocol.UserIsTyping
}

func (u *UserIsTyping) UpdateType() UpdateType   { return TypeUserIsTyping }
func (u *UserIsTyping) ChatId() int64            { return u.UserIsTyping.ChatId }
func (u *UserIsTyping) Client() protocol.Message { return &u.UserIsTyping }

// PresenceStatusChanged goes to everyone sharing a chat with the user.
type PresenceStatusChanged struct {
	protocol.PresenceStatusChanged
}

func (u *PresenceStatusChanged) UpdateType() UpdateType   { return TypePresenceStatusChanged }
func (u *PresenceStatusChanged) ChatId() int64            { return 0 }
func (u *PresenceStatusChanged) Client() protocol.Message { return &u.PresenceStatusChanged }

type ChatClosed struct {
	protocol.ChatClosed
}

func (u *ChatClosed) UpdateType() UpdateType   { return TypeChatClosed }
func (u *ChatClosed) ChatId() int64            { return u.ChatClosed.ChatId }
func (u *ChatClosed) Client() protocol.Message { return &u.ChatClosed }

type ChatOpened struct {
	protocol.ChatOpened
}

func (u *ChatOpened) UpdateType() UpdateType   { return TypeChatOpened }
func (u *ChatOpened) ChatId() int64            { return u.ChatOpened.ChatId }
func (u *ChatOpened) Client() protocol.Message { return &u.ChatOpened }

type TicketStatusChanged struct {
	protocol.TicketStatusChanged
}

func (u *TicketStatusChanged) UpdateType() UpdateType   { return TypeTicketStatusChanged }
func (u *TicketStatusChanged) ChatId() int64            { return u.TicketStatusChanged.ChatId }
func (u *TicketStatusChanged) Client() protocol.Message { return &u.TicketStatusChanged }

var registry = map[UpdateType]func() Update{
	TypeMessageSent:           func() Update { return &MessageSent{} },
	TypeMessageEdited:         func() Update { return &MessageEdited{} },
	TypeMessageDeleted:        func() Update { return &MessageDeleted{} },
	TypeReactionUpdated:       func() Update { return &ReactionUpdated{} },
	TypeDeliveryStatusChanged: func() Update { return &DeliveryStatusChanged{} },
	TypeUserIsTyping:          func() Update { return &UserIsTyping{} },
	TypePresenceStatusChanged: func() Update { return &PresenceStatusChanged{} },
	TypeChatClosed:            func() Update { return &ChatClosed{} },
	TypeChatOpened:            func() Update { return &ChatOpened{} },
	TypeTicketStatusChanged:   func() Update { return &TicketStatusChanged{} },
}

// Envelope is the wire form of an update on the bus.
type Envelope struct {
	Id                  string          `json:"id"`
	Type                UpdateType      `json:"type"`
	ChatId              int64           `json:"chat_id,omitempty"`
	UserId              int64           `json:"user_id,omitempty"`
	ExcludeConnectionId string          `json:"exclude_connection_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	Payload             json.RawMessage `json:"payload"`
}

func newEnvelope(u Update, excludeConnectionId string, now time.Time) (*Envelope, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", u.UpdateType(), err)
	}

	env := &Envelope{
		Id:                  uuid.NewString(),
		Type:                u.UpdateType(),
		ChatId:              u.ChatId(),
		ExcludeConnectionId: excludeConnectionId,
		CreatedAt:           now,
		Payload:             payload,
	}
	if p, ok := u.(*PresenceStatusChanged); ok {
		env.UserId = p.UserId
	}
	return env, nil
}

// Decode returns the update carried by the envelope.
func (e *Envelope) Decode() (Update, error) {
	newUpdate, ok := registry[e.Type]
	if !ok {
		return nil, fmt.Errorf("unknown update type %q", e.Type)
	}

	u := newUpdate()
	if err := json.Unmarshal(e.Payload, u); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return u, nil
}
