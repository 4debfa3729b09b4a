package types

import (
	"time"
)

type AuthUser struct {
	Id   int64 `json:"id"`
	Role Role  `json:"role"`
}

type Message struct {
	Id             int64          `json:"id"`
	ChatId         int64          `json:"chat_id"`
	SenderId       *int64         `json:"sender_id,omitempty"`
	Content        MessageContent `json:"content"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	ReplyTo        *int64         `json:"reply_to,omitempty"`
	TemporaryId    string         `json:"temporary_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// Visible returns the message as clients should see it. Deleted messages keep
// their id and timestamps but carry empty text content.
func (m Message) Visible() Message {
	if m.DeletedAt != nil {
		m.Content = MessageContent{Text: &TextContent{}}
	}
	return m
}

// UnreadCounters is the user's unread total and its split per chat type.
type UnreadCounters struct {
	Total      int64            `json:"total"`
	ByChatType map[string]int64 `json:"by_chat_type"`
}

type TicketStats struct {
	SolvedTicketsCount     int64   `json:"solved_tickets_count"`
	ReturnedTicketsCount   int64   `json:"returned_tickets_count"`
	ReturnedTicketsPercent float64 `json:"returned_tickets_percent"`
	AvgFirstResponseTime   float64 `json:"avg_first_response_time"`
	AvgSolveTime           float64 `json:"avg_solve_time"`
}

// ReturnedPercent is returned/solved, 0 when nothing was solved in the window.
func ReturnedPercent(solved, returned int64) float64 {
	if solved <= 0 || returned <= 0 {
		return 0
	}
	p := float64(returned) / float64(solved)
	if p > 1 {
		return 1
	}
	return p
}
