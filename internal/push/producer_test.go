package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestNewProducer_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		brokers []string
		topic   string
	}{
		{"no brokers", nil, "messenger.push"},
		{"no topic", []string{"localhost:9092"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProducer(testutil.TestLogger(t), tt.brokers, tt.topic)
			assert.False(t, p.Enabled())
			assert.NotPanics(t, func() {
				p.Enqueue(context.Background(), Notification{UserId: 1})
			}, "expected a disabled producer to be a no-op")
			assert.NoError(t, p.Close())
		})
	}
}

func TestProducer_Enqueue(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{log: testutil.TestLogger(t), writer: w}

	p.Enqueue(context.Background(),
		Notification{UserId: 7, ChatId: 1, MessageId: 10, Kind: types.ContentKindText, Text: "hi"},
		Notification{UserId: 8, ChatId: 1, MessageId: 10, Kind: types.ContentKindText, Text: "hi"},
	)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "7", string(w.msgs[0].Key), "expected messages keyed by recipient")

	var n Notification
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &n))
	assert.Equal(t, int64(8), n.UserId)
	assert.Equal(t, "hi", n.Text)
}

func TestProducer_EnqueueErrorIsSwallowed(t *testing.T) {
	p := &Producer{log: testutil.TestLogger(t), writer: &fakeWriter{err: errors.New("broker down")}}
	assert.NotPanics(t, func() {
		p.Enqueue(context.Background(), Notification{UserId: 1})
	})
}
