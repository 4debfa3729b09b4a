package updates

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMembers struct {
	chats   map[int64][]int64
	related map[int64][]int64
}

func (m *staticMembers) GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error) {
	return m.chats[chatId], nil
}

func (m *staticMembers) GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error) {
	return m.related[userId], nil
}

func textMessage(id, chatId, senderId int64, text string) types.Message {
	return types.Message{
		Id:             id,
		ChatId:         chatId,
		SenderId:       &senderId,
		Content:        types.MessageContent{Text: &types.TextContent{Text: text}},
		DeliveryStatus: types.DeliveryStatusSent,
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		update   Update
		expected string
	}{
		{"chat scoped", &MessageSent{Message: textMessage(1, 42, 7, "hi")}, "messenger.updates.chat.42"},
		{"typing", &UserIsTyping{protocol.UserIsTyping{ChatId: 3, UserId: 7}}, "messenger.updates.chat.3"},
		{"presence", &PresenceStatusChanged{protocol.PresenceStatusChanged{UserId: 7, IsOnline: true}}, "messenger.updates.user.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Subject("messenger.updates", tt.update))
		})
	}
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := newEnvelope(&ReactionUpdated{protocol.ReactionUpdated{MessageId: 5, ChatId: 2, UserId: 7, Emoji: "+1", EmojiCount: 3}}, "", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, env.Id, "expected envelope id to be generated")
	assert.Equal(t, int64(2), env.ChatId)

	u, err := env.Decode()
	require.NoError(t, err)
	reaction, ok := u.(*ReactionUpdated)
	require.True(t, ok, "expected a reaction update, got %T", u)
	assert.Equal(t, 3, reaction.EmojiCount)
	assert.Equal(t, protocol.TypeReactionUpdated, reaction.Client().Type())

	env.Type = "unknown"
	_, err = env.Decode()
	assert.Error(t, err, "expected unknown update types to be rejected")
}

func TestDispatcher_PreservesOrderPerKey(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t), stats.Nop{}, DispatcherOptions{
		Workers:           4,
		PendingLimit:      400,
		WarningThreshold:  300,
		OverflowTimeLimit: time.Second,
	})
	d.Start()

	var mu sync.Mutex
	seen := make(map[int64][]int)
	for i := 0; i < 50; i++ {
		for key := int64(1); key <= 3; key++ {
			require.True(t, d.Dispatch(key, func() {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}))
		}
	}
	d.Stop()

	for key, order := range seen {
		require.Len(t, order, 50, "expected every job of key %d to run", key)
		for i, v := range order {
			assert.Equal(t, i, v, "expected jobs of key %d to run in submission order", key)
		}
	}
	assert.False(t, d.Dispatch(1, func() {}), "expected dispatch after stop to be rejected")
}

func TestDispatcher_DropsOnOverflow(t *testing.T) {
	sp := new(stats.MockStatsUpdater)
	sp.On("Incr", stats.UpdatesDropped).Once()

	d := NewDispatcher(testutil.TestLogger(t), sp, DispatcherOptions{
		Workers:           1,
		PendingLimit:      1,
		WarningThreshold:  1,
		OverflowTimeLimit: 20 * time.Millisecond,
	})
	d.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, d.Dispatch(1, func() {
		close(started)
		<-release
	}))
	<-started

	assert.True(t, d.Dispatch(1, func() {}), "expected the queue to accept one pending job")
	assert.False(t, d.Dispatch(1, func() {}), "expected a full queue to drop after the overflow limit")

	close(release)
	d.Stop()
	sp.AssertExpectations(t)
}

func TestListener_DeliversToLocalConnections(t *testing.T) {
	_, rdb := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	registry := connections.NewRegistry(logger, rdb, stats.Nop{}, 0)
	members := &staticMembers{
		chats:   map[int64][]int64{10: {1, 2}},
		related: map[int64][]int64{1: {2, 3}},
	}

	senderTab, senderOther, recipient, outsider := &connections.MockTransport{}, &connections.MockTransport{}, &connections.MockTransport{}, &connections.MockTransport{}
	senderConn, err := registry.OnUserConnected(ctx, types.AuthUser{Id: 1, Role: types.RoleScout}, senderTab, "")
	require.NoError(t, err)
	_, err = registry.OnUserConnected(ctx, types.AuthUser{Id: 1, Role: types.RoleScout}, senderOther, "")
	require.NoError(t, err)
	_, err = registry.OnUserConnected(ctx, types.AuthUser{Id: 2, Role: types.RoleBookmaker}, recipient, "")
	require.NoError(t, err)
	_, err = registry.OnUserConnected(ctx, types.AuthUser{Id: 3, Role: types.RoleBookmaker}, outsider, "")
	require.NoError(t, err)

	bus := NewMemoryBus()
	dispatcher := NewDispatcher(logger, stats.Nop{}, DispatcherOptions{Workers: 2, PendingLimit: 16, WarningThreshold: 8, OverflowTimeLimit: time.Second})
	listener := NewListener(logger, bus, "messenger.updates", registry, members, dispatcher, stats.Nop{})
	require.NoError(t, listener.Start(ctx))

	publisher := NewPublisher(logger, bus, "messenger.updates", stats.Nop{})
	require.NoError(t, publisher.PublishUpdate(ctx, &MessageSent{Message: textMessage(100, 10, 1, "hello")}, senderConn.Id))
	require.NoError(t, publisher.PublishUpdate(ctx, &PresenceStatusChanged{protocol.PresenceStatusChanged{UserId: 1, IsOnline: true}}, ""))

	listener.Stop()

	assert.Empty(t, senderTab.Messages(), "expected the sending connection not to receive its own message")
	require.Len(t, senderOther.Messages(), 1, "expected the sender's other connections to receive the message")
	assert.Equal(t, protocol.TypeNewMessage, senderOther.Messages()[0].Type())

	var got []protocol.MessageType
	for _, msg := range recipient.Messages() {
		got = append(got, msg.Type())
	}
	assert.ElementsMatch(t, []protocol.MessageType{protocol.TypeNewMessage, protocol.TypePresenceStatusChanged}, got)

	require.Len(t, outsider.Messages(), 1, "expected non-members to only get presence")
	assert.Equal(t, protocol.TypePresenceStatusChanged, outsider.Messages()[0].Type())
}

func TestListener_IgnoresMalformedEnvelopes(t *testing.T) {
	_, rdb := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	registry := connections.NewRegistry(logger, rdb, stats.Nop{}, 0)

	bus := NewMemoryBus()
	dispatcher := NewDispatcher(logger, stats.Nop{}, DispatcherOptions{Workers: 1, PendingLimit: 4, WarningThreshold: 2, OverflowTimeLimit: time.Second})
	listener := NewListener(logger, bus, "messenger.updates", registry, &staticMembers{}, dispatcher, stats.Nop{})
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	assert.NotPanics(t, func() {
		bus.Publish("messenger.updates.chat.1", []byte("not json"))
		data, _ := json.Marshal(Envelope{Id: "x", Type: "bogus", ChatId: 1})
		bus.Publish("messenger.updates.chat.1", data)
	})
}
