package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 5000

type ContentKind string

const (
	ContentKindText                ContentKind = "text"
	ContentKindFile                ContentKind = "file"
	ContentKindChatClosed          ContentKind = "chat_closed"
	ContentKindChatOpened          ContentKind = "chat_opened"
	ContentKindChatCreated         ContentKind = "chat_created"
	ContentKindUserJoined          ContentKind = "user_joined"
	ContentKindUserLeft            ContentKind = "user_left"
	ContentKindTicketClosed        ContentKind = "ticket_closed"
	ContentKindTicketStatusChanged ContentKind = "ticket_status_changed"
)

// MessageContent holds exactly one of its variants.
type MessageContent struct {
	Text                *TextContent              `json:"text,omitempty"`
	File                *FileContent              `json:"file,omitempty"`
	ChatClosed          *ChatClosedNotification   `json:"chat_closed,omitempty"`
	ChatOpened          *ChatOpenedNotification   `json:"chat_opened,omitempty"`
	ChatCreated         *ChatCreatedNotification  `json:"chat_created,omitempty"`
	UserJoined          *UserNotification         `json:"user_joined,omitempty"`
	UserLeft            *UserNotification         `json:"user_left,omitempty"`
	TicketClosed        *TicketClosedNotification `json:"ticket_closed,omitempty"`
	TicketStatusChanged *TicketStatusNotification `json:"ticket_status_changed,omitempty"`
}

type TextContent struct {
	Text string `json:"text"`
}

type FileContent struct {
	Url      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type ChatClosedNotification struct {
	Reason ChatCloseReason `json:"reason"`
}

type ChatOpenedNotification struct {
	OpenedBy int64 `json:"opened_by"`
}

type ChatCreatedNotification struct {
	CreatedBy int64 `json:"created_by"`
}

type UserNotification struct {
	UserId int64 `json:"user_id"`
}

type TicketClosedNotification struct {
	TicketId       int64 `json:"ticket_id"`
	TicketChatId   int64 `json:"ticket_chat_id"`
	ClosedByUserId int64 `json:"closed_by_user_id"`
}

type TicketStatusNotification struct {
	TicketId int64        `json:"ticket_id"`
	Status   TicketStatus `json:"status"`
}

func (c MessageContent) variants() map[ContentKind]bool {
	return map[ContentKind]bool{
		ContentKindText:                c.Text != nil,
		ContentKindFile:                c.File != nil,
		ContentKindChatClosed:          c.ChatClosed != nil,
		ContentKindChatOpened:          c.ChatOpened != nil,
		ContentKindChatCreated:         c.ChatCreated != nil,
		ContentKindUserJoined:          c.UserJoined != nil,
		ContentKindUserLeft:            c.UserLeft != nil,
		ContentKindTicketClosed:        c.TicketClosed != nil,
		ContentKindTicketStatusChanged: c.TicketStatusChanged != nil,
	}
}

// Kind returns the populated variant, or "" when zero or several are set.
func (c MessageContent) Kind() ContentKind {
	var kind ContentKind
	for k, set := range c.variants() {
		if !set {
			continue
		}
		if kind != "" {
			return ""
		}
		kind = k
	}
	return kind
}

// IsNotification reports whether the content is system authored.
// Notifications never trigger push notifications.
func (c MessageContent) IsNotification() bool {
	switch c.Kind() {
	case ContentKindText, ContentKindFile, "":
		return false
	}
	return true
}

// Validate checks content sent by a client. Only text and file kinds are accepted.
func (c MessageContent) Validate() error {
	switch c.Kind() {
	case ContentKindText:
		text := strings.TrimSpace(c.Text.Text)
		if text == "" {
			return errors.New("text cannot be empty")
		}
		if utf8.RuneCountInString(c.Text.Text) > MaxMessageLength {
			return fmt.Errorf("text exceeds %d characters", MaxMessageLength)
		}
	case ContentKindFile:
		if c.File.Url == "" {
			return errors.New("file url cannot be empty")
		}
		if utf8.RuneCountInString(c.File.Caption) > MaxMessageLength {
			return fmt.Errorf("caption exceeds %d characters", MaxMessageLength)
		}
	case "":
		return errors.New("content must have exactly one variant")
	default:
		return fmt.Errorf("content kind %q cannot be sent by clients", c.Kind())
	}
	return nil
}

// PreviewText is the short text used in push notifications.
func (c MessageContent) PreviewText() string {
	switch {
	case c.Text != nil:
		return c.Text.Text
	case c.File != nil:
		if c.File.Caption != "" {
			return c.File.Caption
		}
		return c.File.Name
	}
	return ""
}

func (c MessageContent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *MessageContent) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = MessageContent{}
		return nil
	}
	return fmt.Errorf("scan message content: unsupported type %T", src)
}
