package server

import (
	"testing"

	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan []byte, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage([]byte{1})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case frame := <-c.send:
			assert.Equal(t, []byte{1}, frame, "expected the frame to be queued")
		default:
			t.Error("expected a frame to be queued, but none was")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan []byte, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		c.send <- []byte{1}
		res := c.queueMessage([]byte{2})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
	t.Run("closed client", func(t *testing.T) {
		c := &Client{
			send: make(chan []byte, 1),
			stop: make(chan struct{}),
			log:  testutil.TestLogger(t),
		}

		c.Close(1000, "")
		assert.False(t, c.queueMessage([]byte{1}), "expected closed clients to refuse frames")
	})
}

func TestClient_Send(t *testing.T) {
	c := &Client{
		send: make(chan []byte, 1),
		stop: make(chan struct{}),
		log:  testutil.TestLogger(t),
	}

	require.True(t, c.Send(&protocol.ChatOpened{ChatId: 3}))
	frame := <-c.send
	msg, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, &protocol.ChatOpened{ChatId: 3}, msg, "expected Send to encode a protocol frame")
}

func TestClient_Close(t *testing.T) {
	c := &Client{stop: make(chan struct{})}

	c.Close(1001, "shutdown")
	assert.NotPanics(t, func() { c.Close(1002, "again") }, "expected Close to be idempotent")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
	assert.Equal(t, []byte{0x03, 0xe9}, c.closeMsg[:2], "expected the first close code to win")
}
