package protocol

import (
	"testing"

	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	frame, err := Encode(&MarkRead{ChatId: 7, MessageId: 42})
	require.NoError(t, err, "expected no error encoding message")
	assert.Equal(t, byte(TypeMarkRead), frame[0], "expected first byte to be the message type")
	assert.JSONEq(t, `{"chat_id":7,"message_id":42}`, string(frame[1:]), "expected json payload")
}

func TestDecode(t *testing.T) {
	t.Run("send message", func(t *testing.T) {
		frame := append([]byte{byte(TypeSendMessage)},
			[]byte(`{"temporary_id":"tmp-1","chat_id":3,"content":{"text":{"text":"hi"}}}`)...)

		msg, err := Decode(frame)
		require.NoError(t, err, "expected no error decoding send message")

		send, ok := msg.(*SendMessage)
		require.True(t, ok, "expected *SendMessage, got %T", msg)
		assert.Equal(t, "tmp-1", send.TemporaryId)
		assert.Equal(t, int64(3), send.ChatId)
		assert.Equal(t, types.ContentKindText, send.Content.Kind())
	})

	t.Run("empty payload", func(t *testing.T) {
		msg, err := Decode([]byte{byte(TypeUnsubscribe)})
		require.NoError(t, err, "expected type byte without payload to decode")
		assert.IsType(t, &Unsubscribe{}, msg)
	})

	tcases := []struct {
		name  string
		frame []byte
		kind  error
	}{
		{"empty frame", nil, errs.ErrInvalidMessageStructure},
		{"unknown type", []byte{200, '{', '}'}, errs.ErrInvalidMessageType},
		{"zero type", []byte{0}, errs.ErrInvalidMessageType},
		{"bad json", append([]byte{byte(TypeMarkRead)}, []byte(`{"chat_id":`)...), errs.ErrInvalidMessageStructure},
		{"wrong field type", append([]byte{byte(TypeMarkRead)}, []byte(`{"chat_id":"x"}`)...), errs.ErrInvalidMessageStructure},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.frame)
			assert.Nil(t, msg, "expected no message for invalid frame")
			assert.ErrorIs(t, err, tc.kind)
		})
	}
}

func TestRegistryCoversAllTypes(t *testing.T) {
	for typ, newMsg := range registry {
		assert.Equal(t, typ, newMsg().Type(), "expected registry entry %d to construct a matching message", typ)
	}
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand(TypeSendMessage))
	assert.True(t, IsCommand(TypeUnsubscribe))
	assert.False(t, IsCommand(TypeNewMessage))
	assert.False(t, IsCommand(TypeErrorOccurred))
}
