package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-messenger/internal/errs"
)

// registry maps every wire type byte to a constructor for its payload.
var registry = map[MessageType]func() Message{
	TypeSendMessage:   func() Message { return &SendMessage{} },
	TypeSendActivity:  func() Message { return &SendActivity{} },
	TypeSendReaction:  func() Message { return &SendReaction{} },
	TypeMarkRead:      func() Message { return &MarkRead{} },
	TypeMarkReceived:  func() Message { return &MarkReceived{} },
	TypeEditMessage:   func() Message { return &EditMessage{} },
	TypeDeleteMessage: func() Message { return &DeleteMessage{} },
	TypeSubscribe:     func() Message { return &Subscribe{} },
	TypeUnsubscribe:   func() Message { return &Unsubscribe{} },

	TypeMessageSent:           func() Message { return &MessageSent{} },
	TypeNewMessage:            func() Message { return &NewMessage{} },
	TypeMessageSendFailed:     func() Message { return &MessageSendFailed{} },
	TypeReactionUpdated:       func() Message { return &ReactionUpdated{} },
	TypePresenceStatusChanged: func() Message { return &PresenceStatusChanged{} },
	TypeUserIsTyping:          func() Message { return &UserIsTyping{} },
	TypeUnreadCountersUpdate:  func() Message { return &UnreadCountersUpdate{} },
	TypeDeliveryStatusChanged: func() Message { return &DeliveryStatusChanged{} },
	TypeChatClosed:            func() Message { return &ChatClosed{} },
	TypeChatOpened:            func() Message { return &ChatOpened{} },
	TypeMessageEdited:         func() Message { return &MessageEdited{} },
	TypeMessageDeleted:        func() Message { return &MessageDeleted{} },
	TypeTicketStatusChanged:   func() Message { return &TicketStatusChanged{} },
	TypeErrorOccurred:         func() Message { return &ErrorOccurred{} },
}

// IsCommand reports whether t is sent by clients.
func IsCommand(t MessageType) bool {
	return t >= TypeSendMessage && t <= TypeUnsubscribe
}

// Encode serializes msg as a frame: one type byte followed by the JSON payload.
func Encode(msg Message) ([]byte, error) {
	if _, ok := registry[msg.Type()]; !ok {
		return nil, fmt.Errorf("encode: %w: %d", errs.ErrInvalidMessageType, msg.Type())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, byte(msg.Type()))
	return append(frame, payload...), nil
}

func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("decode: %w: empty frame", errs.ErrInvalidMessageStructure)
	}

	newMsg, ok := registry[MessageType(frame[0])]
	if !ok {
		return nil, fmt.Errorf("decode: %w: %d", errs.ErrInvalidMessageType, frame[0])
	}

	msg := newMsg()
	payload := frame[1:]
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", errs.ErrInvalidMessageStructure, err)
	}

	return msg, nil
}
