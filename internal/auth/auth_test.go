package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestUser(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		user     types.AuthUser
		expected bool
	}{
		{
			name:     "no user",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user set",
			ctx:      WithUser(context.Background(), types.AuthUser{Id: 42, Role: types.RoleScout}),
			user:     types.AuthUser{Id: 42, Role: types.RoleScout},
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			user, ok := User(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected User to return %v", tc.expected)
			assert.Equal(t, tc.user, user, "expected User to return %v", tc.user)
		})
	}
}

func TestTokens_UserToken(t *testing.T) {
	tokens := NewTokens(testKey)
	want := types.AuthUser{Id: 7, Role: types.RoleSupervisor}

	token, err := tokens.CreateUserToken(want, time.Hour)
	require.NoError(t, err)

	got, err := tokens.ParseUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTokens_ParseUserToken_Invalid(t *testing.T) {
	tokens := NewTokens(testKey)
	sign := func(key []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	tcases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty",
			token:   "",
			wantErr: errs.ErrAuthRequired,
		},
		{
			name:    "garbage",
			token:   "not-a-token",
			wantErr: errs.ErrInvalidAuthCredentials,
		},
		{
			name:    "wrong key",
			token:   sign([]byte("other"), jwt.SigningMethodHS256, jwt.MapClaims{"user-id": 1, "role": "scout", "exp": exp}),
			wantErr: errs.ErrInvalidAuthCredentials,
		},
		{
			name:    "expired",
			token:   sign(testKey, jwt.SigningMethodHS256, jwt.MapClaims{"user-id": 1, "role": "scout", "exp": time.Now().Add(-time.Minute).Unix()}),
			wantErr: errs.ErrInvalidAuthCredentials,
		},
		{
			name:    "missing user id",
			token:   sign(testKey, jwt.SigningMethodHS256, jwt.MapClaims{"role": "scout", "exp": exp}),
			wantErr: errs.ErrInvalidAuthCredentials,
		},
		{
			name:    "unknown role",
			token:   sign(testKey, jwt.SigningMethodHS256, jwt.MapClaims{"user-id": 1, "role": "admin", "exp": exp}),
			wantErr: errs.ErrInvalidAuthCredentials,
		},
		{
			name:    "service token",
			token:   sign(testKey, jwt.SigningMethodHS256, jwt.MapClaims{"aud": "backend", "exp": exp}),
			wantErr: errs.ErrInvalidAuthCredentials,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tokens.ParseUserToken(tc.token)
			assert.ErrorIs(t, err, tc.wantErr, "expected %v for %s token", tc.wantErr, tc.name)
		})
	}
}

func TestTokens_ServiceToken(t *testing.T) {
	tokens := NewTokens(testKey)
	allowed := []string{"backend", "cabinet"}

	token, err := tokens.CreateServiceToken("backend", "cabinet", time.Hour)
	require.NoError(t, err)
	aud, err := tokens.ParseServiceToken(token, allowed)
	require.NoError(t, err)
	assert.Equal(t, "cabinet", aud)

	token, err = tokens.CreateServiceToken("backend", "admin", time.Hour)
	require.NoError(t, err)
	_, err = tokens.ParseServiceToken(token, allowed)
	assert.ErrorIs(t, err, errs.ErrInvalidAuthCredentials, "expected audiences outside the whitelist to be rejected")

	userToken, err := tokens.CreateUserToken(types.AuthUser{Id: 1, Role: types.RoleScout}, time.Hour)
	require.NoError(t, err)
	_, err = tokens.ParseServiceToken(userToken, allowed)
	assert.ErrorIs(t, err, errs.ErrInvalidAuthCredentials, "expected user tokens to carry no audience")
}

func TestTokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
	}{
		{
			name:     "none",
			setup:    func(r *http.Request) {},
			expected: "",
		},
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			expected: "abc",
		},
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"}) },
			expected: "from-cookie",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer abc")
				r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"})
			},
			expected: "abc",
		},
		{
			name: "query parameter",
			setup: func(r *http.Request) {
				r.URL.RawQuery = "token=from-query"
			},
			expected: "from-query",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(r)
			assert.Equal(t, tc.expected, TokenFromRequest(r))
		})
	}
}
