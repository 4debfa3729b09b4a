package errs

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code string
	}{
		{"validation", Validation("text too long"), CodeValidation},
		{"not permitted", NotPermitted("user %d is not a member", 1), CodeNotPermitted},
		{"wrapped not permitted", fmt.Errorf("send reaction: %w", NotPermitted("no access")), CodeNotPermitted},
		{"invalid transition", Client(ErrInvalidTransition, "NEW -> SOLVED"), CodeNotPermitted},
		{"not found", NotFound("message 1"), CodeNotFound},
		{"conflict", Client(ErrConflict, "version changed"), CodeConflict},
		{"server error", Server("create message", errors.New("db down")), CodeUnspecified},
		{"plain error", errors.New("boom"), CodeUnspecified},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, CodeOf(tc.err))
		})
	}
}

func TestClientError(t *testing.T) {
	err := NotPermitted("user %d cannot edit message %d", 2, 10)
	assert.True(t, errors.Is(err, ErrNotPermitted), "expected client error to unwrap to its kind")
	assert.True(t, IsClientError(fmt.Errorf("wrap: %w", err)), "expected wrapped client error to be detected")
	assert.Equal(t, "not permitted: user 2 cannot edit message 10", err.Error())
	assert.Equal(t, err.Error(), Description(err))
}

func TestServerError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Server("mark read", cause)
	assert.False(t, IsClientError(err), "expected server error not to be a client error")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", Description(err), "expected server details to be hidden")
}

func TestFromStorage(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected error
		client   bool
	}{
		{"no rows", fmt.Errorf("get chat: %w", sql.ErrNoRows), ErrNotFound, true},
		{"not permitted", fmt.Errorf("message 1 belongs to another user: %w", ErrNotPermitted), ErrNotPermitted, true},
		{"conflict", fmt.Errorf("chat changed: %w", ErrConflict), ErrConflict, true},
		{"invalid transition", fmt.Errorf("NEW -> SOLVED: %w", ErrInvalidTransition), ErrInvalidTransition, true},
		{"driver failure", errors.New("connection refused"), nil, false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := FromStorage("op", tc.err)
			assert.Equal(t, tc.client, IsClientError(err))
			if tc.expected != nil {
				assert.ErrorIs(t, err, tc.expected)
			}
		})
	}

	assert.NoError(t, FromStorage("op", nil))
}
