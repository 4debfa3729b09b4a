package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := testutil.TestLogger(t)
	logger.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	errorHandler(logger, panicHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
	assert.NotContains(t, rr.Body.String(), "test panic", "expected panic details to stay out of the response")
}

func TestErrorHandler_NoPanic(t *testing.T) {
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	errorHandler(testutil.TestLogger(t), okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called, "expected handler to be called")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Empty(t, rr.Header().Get("Connection"))
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"))
	app := &MessengerApp{log: testutil.TestLogger(t), MessengerDeps: MessengerDeps{Tokens: tokens}}

	valid, err := tokens.CreateUserToken(types.AuthUser{Id: 7, Role: types.RoleBookmaker}, auth.DefaultExpiration)
	require.NoError(t, err)

	tcs := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "no token",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.TokenCookieKey, Value: valid}) },
			wantStatus: http.StatusOK,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var got types.AuthUser
			handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				got, _ = auth.User(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, types.AuthUser{Id: 7, Role: types.RoleBookmaker}, got, "expected user to be set in context")
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			}
		})
	}
}

func TestSupervisorOnly(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"))
	app := &MessengerApp{log: testutil.TestLogger(t), MessengerDeps: MessengerDeps{Tokens: tokens}}

	tcs := []struct {
		role       types.Role
		wantStatus int
	}{
		{types.RoleScout, http.StatusForbidden},
		{types.RoleBookmaker, http.StatusForbidden},
		{types.RoleSupervisor, http.StatusOK},
	}

	for _, tc := range tcs {
		t.Run(tc.role.String(), func(t *testing.T) {
			token, err := tokens.CreateUserToken(types.AuthUser{Id: 1, Role: tc.role}, auth.DefaultExpiration)
			require.NoError(t, err)

			handler := app.supervisorOnly(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
		})
	}
}
