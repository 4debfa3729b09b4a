package push

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/segmentio/kafka-go"
)

// Notification asks the push gateway to notify an offline user about a
// new message.
type Notification struct {
	UserId    int64             `json:"user_id"`
	ChatId    int64             `json:"chat_id"`
	MessageId int64             `json:"message_id"`
	SenderId  *int64            `json:"sender_id,omitempty"`
	Kind      types.ContentKind `json:"kind"`
	Text      string            `json:"text"`
	CreatedAt time.Time         `json:"created_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, notifications ...Notification)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes notifications to a kafka topic. Delivery is best-effort:
// failures are logged and never surface to the sender of the message.
type Producer struct {
	log    *log.Logger
	writer messageWriter
}

// NewProducer returns a producer that does nothing when brokers or topic
// are not configured.
func NewProducer(logger *log.Logger, brokers []string, topic string) *Producer {
	p := &Producer{log: logger}
	if len(brokers) == 0 || topic == "" {
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Printf("push: "+msg, args...)
		}),
	}
	return p
}

func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// Enqueue publishes the notifications keyed by recipient, so one user's
// notifications stay in order.
func (p *Producer) Enqueue(ctx context.Context, notifications ...Notification) {
	if p.writer == nil || len(notifications) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(notifications))
	for _, n := range notifications {
		body, err := json.Marshal(n)
		if err != nil {
			p.log.Printf("push: marshal notification: %v", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(n.UserId, 10)),
			Value: body,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Printf("push: write %d notifications: %v", len(msgs), err)
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
