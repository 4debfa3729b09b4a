package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestTrustedProxyHeaders(t *testing.T) {
	trusted := []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}

	tcs := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"untrusted peer", "203.0.113.7:5000", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy", "10.0.0.2:443", "198.51.100.9", "198.51.100.9"},
		{"spoofed hop before the proxy", "10.0.0.2:443", "6.6.6.6, 198.51.100.9", "198.51.100.9"},
		{"chain of trusted proxies", "10.0.0.2:443", "198.51.100.9, 10.0.0.5", "198.51.100.9"},
		{"garbage hop", "10.0.0.2:443", "not-an-ip", "10.0.0.2"},
		{"no header", "10.0.0.2:443", "", "10.0.0.2"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			h := trustedProxyHeaders(trusted, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestServeWs_RotatingForwardedForKeepsIPCap(t *testing.T) {
	_, rdb := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	registry := connections.NewRegistry(logger, rdb, stats.Nop{}, 2)
	for i := 0; i < 2; i++ {
		_, err := registry.OnUserConnected(ctx, bookmaker, &connections.MockTransport{}, "127.0.0.1")
		require.NoError(t, err, "expected the first connections to be admitted")
	}

	tokens := auth.NewTokens([]byte("test-secret"))
	app := NewMessengerApp(http.NewServeMux(), logger, MessengerDeps{
		Registry: registry,
		Tokens:   tokens,
	}, &config.Config{ServerAddr: "localhost:0"})
	srv := httptest.NewServer(app.srv.Handler)
	defer srv.Close()

	token, err := tokens.CreateUserToken(bookmaker, auth.DefaultExpiration)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	for i := 1; i <= 5; i++ {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))

		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err, "expected the upgrade to succeed before the cap is reported")
		_, _, err = conn.ReadMessage()
		conn.Close()

		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "expected the server to close connection %d", i)
		assert.Equal(t, connections.ClosePolicyViolation, closeErr.Code,
			"expected a forged X-Forwarded-For not to bypass the per-address cap")
	}
}
