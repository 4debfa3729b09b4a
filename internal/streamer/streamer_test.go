package streamer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/unread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("streamer-test-key")

type staticSource map[int64]map[int64]int64

func (s staticSource) CountUnreadByChat(ctx context.Context, userId int64, chatIds ...int64) (map[int64]int64, error) {
	result := make(map[int64]int64)
	for chatId, n := range s[userId] {
		if len(chatIds) > 0 && chatIds[0] != chatId {
			continue
		}
		result[chatId] = n
	}
	return result, nil
}

type testEnv struct {
	mr       *miniredis.Miniredis
	counters *unread.Counters
	server   *Server
	srv      *httptest.Server
	tokens   *auth.Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testutil.TestLogger(t)
	mr, rdb := testutil.TestRedis(t)

	counters := unread.NewCounters(logger, rdb, staticSource{1: {10: 3}, 2: {}})
	tokens := auth.NewTokens(signingKey)
	s := NewServer(logger, counters, tokens, []string{"backend"}, new(stats.MockStatsUpdater).Permissive())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.Serve(r.Context(), conn, auth.TokenFromRequest(r))
	}))
	t.Cleanup(srv.Close)

	return &testEnv{mr: mr, counters: counters, server: s, srv: srv, tokens: tokens}
}

func (e *testEnv) dial(t *testing.T, audience string) *websocket.Conn {
	t.Helper()
	token, err := e.tokens.CreateServiceToken("test", audience, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/unread?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "expected websocket dial to succeed")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "expected a frame from the streamer")
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)
	return msg
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce, "expected a close frame, got %v", err)
		return ce.Code
	}
}

func (e *testEnv) waitSubscribers(t *testing.T, userId int64, n int) {
	t.Helper()
	channel := unread.Channel(userId)
	require.Eventually(t, func() bool {
		return e.mr.PubSubNumSub(channel)[channel] == n
	}, 2*time.Second, 10*time.Millisecond, "expected %d subscribers on %s", n, channel)
}

func TestStreamer_SubscribeAndForward(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "backend")

	write(t, conn, &protocol.Subscribe{UserIds: []int64{1, 2}})
	assert.ElementsMatch(t, []protocol.Message{
		&protocol.UnreadCountersUpdate{UserId: 1, UnreadCount: 3},
		&protocol.UnreadCountersUpdate{UserId: 2, UnreadCount: 0},
	}, []protocol.Message{read(t, conn), read(t, conn)}, "expected the current totals right after subscribing")

	env.waitSubscribers(t, 1, 1)
	env.counters.IncrementForUsers(context.Background(), 10, []int64{1})
	assert.Equal(t, &protocol.UnreadCountersUpdate{UserId: 1, UnreadCount: 4}, read(t, conn), "expected the incremented total to be pushed")

	write(t, conn, &protocol.Subscribe{UserIds: []int64{1}})
	write(t, conn, &protocol.Unsubscribe{UserIds: []int64{1}})
	env.waitSubscribers(t, 1, 0)
	env.waitSubscribers(t, 2, 1)

	env.counters.IncrementForUsers(context.Background(), 10, []int64{1, 2})
	assert.Equal(t, &protocol.UnreadCountersUpdate{UserId: 2, UnreadCount: 1}, read(t, conn), "expected updates only for users still subscribed")
}

func TestStreamer_Disconnect(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "backend")

	write(t, conn, &protocol.Subscribe{UserIds: []int64{1}})
	read(t, conn)
	env.waitSubscribers(t, 1, 1)

	conn.Close()
	env.waitSubscribers(t, 1, 0)
}

func TestStreamer_Rejects(t *testing.T) {
	t.Run("audience not allowed", func(t *testing.T) {
		env := newTestEnv(t)
		conn := env.dial(t, "cabinet")
		assert.Equal(t, connections.CloseProtocolError, readCloseCode(t, conn))
	})

	t.Run("user token", func(t *testing.T) {
		env := newTestEnv(t)
		token, err := env.tokens.CreateUserToken(types.AuthUser{Id: 1, Role: types.RoleScout}, time.Minute)
		require.NoError(t, err)

		header := http.Header{"Authorization": []string{"Bearer " + token}}
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http"), header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, connections.CloseProtocolError, readCloseCode(t, conn))
	})

	t.Run("chat command", func(t *testing.T) {
		env := newTestEnv(t)
		conn := env.dial(t, "backend")
		write(t, conn, &protocol.MarkRead{ChatId: 1, MessageId: 1})
		assert.Equal(t, connections.CloseProtocolError, readCloseCode(t, conn))
	})
}

func TestStreamer_Shutdown(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "backend")
	write(t, conn, &protocol.Subscribe{UserIds: []int64{2}})
	read(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))
	assert.Equal(t, connections.CloseGoingAway, readCloseCode(t, conn))

	late := env.dial(t, "backend")
	assert.Equal(t, connections.CloseGoingAway, readCloseCode(t, late), "expected new connections to be refused after shutdown")
}
