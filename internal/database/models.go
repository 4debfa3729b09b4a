package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type ChatMeta struct {
	AssignedTicketId *int64  `json:"assigned_ticket_id,omitempty"`
	RelatedTicketIds []int64 `json:"related_ticket_ids,omitempty"`
}

func (m ChatMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ChatMeta) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = ChatMeta{}
		return nil
	}
	return fmt.Errorf("scan chat meta: unsupported type %T", src)
}

type Chat struct {
	Id        int64
	Type      types.ChatType
	IsClosed  bool
	MatchId   sql.NullInt64
	Meta      ChatMeta
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatPermissions describes a user's access to a chat. IsMember is false
// when the user has no membership row.
type ChatPermissions struct {
	ChatId   int64
	UserId   int64
	ChatType types.ChatType
	IsClosed bool
	Version  int
	IsMember bool
	Role     types.Role
	CanRead  bool
	CanWrite bool
}

type ChatMember struct {
	ChatId                int64
	UserId                int64
	Role                  types.Role
	IsPrimaryMember       bool
	IsArchiveMember       bool
	LastReceivedMessageId int64
	LastReadMessageId     int64
	HasReadPermission     bool
	HasWritePermission    bool
}

type Message struct {
	Id             int64
	ChatId         int64
	SenderId       sql.NullInt64
	Content        types.MessageContent
	DeliveryStatus types.DeliveryStatus
	ReplyTo        sql.NullInt64
	CreatedAt      time.Time
	UpdatedAt      sql.NullTime
	DeletedAt      sql.NullTime
}

// ToType converts the row to the wire representation with deleted content hidden.
func (m Message) ToType() types.Message {
	msg := types.Message{
		Id:             m.Id,
		ChatId:         m.ChatId,
		Content:        m.Content,
		DeliveryStatus: m.DeliveryStatus,
		CreatedAt:      m.CreatedAt,
	}
	if m.SenderId.Valid {
		senderId := m.SenderId.Int64
		msg.SenderId = &senderId
	}
	if m.ReplyTo.Valid {
		replyTo := m.ReplyTo.Int64
		msg.ReplyTo = &replyTo
	}
	if m.UpdatedAt.Valid {
		updatedAt := m.UpdatedAt.Time
		msg.UpdatedAt = &updatedAt
	}
	if m.DeletedAt.Valid {
		deletedAt := m.DeletedAt.Time
		msg.DeletedAt = &deletedAt
	}
	return msg.Visible()
}

type CreateMessageParams struct {
	ChatId         int64
	SenderId       *int64
	Content        types.MessageContent
	DeliveryStatus types.DeliveryStatus
	ReplyTo        *int64
}

type PersonalChatParams struct {
	InitiatorId   int64
	InitiatorRole types.Role
	RecipientId   int64
	RecipientRole types.Role
}

type Ticket struct {
	Id                int64
	Status            types.TicketStatus
	ChatId            int64
	CreatedFromChatId sql.NullInt64
	AssignedToUserId  sql.NullInt64
	CloseReason       sql.NullInt64
	Comment           string
	CreatedAt         time.Time
	UpdatedAt         sql.NullTime
}

type TicketStatusLog struct {
	Id                  int64
	TicketId            int64
	OldStatus           types.TicketStatus
	NewStatus           types.TicketStatus
	UpdatedBy           int64
	TimeAfterLastStatus int64
	CreatedAt           time.Time
}

type TransitionTicketParams struct {
	TicketId  int64
	To        types.TicketStatus
	UpdatedBy int64
	// RequireAssignee rejects actors other than the assigned user.
	RequireAssignee bool
	// RequireMember rejects actors who are not members of the ticket chat.
	RequireMember bool
	// AssignTo assigns the ticket and grants the user supervisor access to its chat.
	AssignTo    *int64
	CloseReason *types.TicketCloseReason
	Comment     string
}

// CreateTicketParams describes a new ticket. CreatedFromChatId names the
// match chat the ticket was raised from, if any.
type CreateTicketParams struct {
	CreatedBy         int64
	CreatorRole       types.Role
	CreatedFromChatId *int64
	MatchId           *int64
}

type CreatedTicket struct {
	Ticket Ticket
	Chat   Chat
}

type TicketTransition struct {
	Ticket    Ticket
	OldStatus types.TicketStatus
	Log       TicketStatusLog
}

type TicketStatsParams struct {
	ForUserId *int64
	From      time.Time
	To        time.Time
}

type TicketStats struct {
	Solved           int64
	Returned         int64
	AvgFirstResponse float64
	AvgTimeToSolve   float64
}
