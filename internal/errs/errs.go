package errs

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrAuthRequired            = errors.New("authentication required")
	ErrInvalidAuthCredentials  = errors.New("invalid auth credentials")
	ErrNotPermitted            = errors.New("not permitted")
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation error")
	ErrInvalidMessageStructure = errors.New("invalid message structure")
	ErrInvalidMessageType      = errors.New("invalid message type")
	ErrConnectionClosed        = errors.New("connection closed")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrTooManyConnections      = errors.New("too many connections")
	ErrConflict                = errors.New("conflict")
)

const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotPermitted = "NOT_PERMITTED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnspecified  = "UNSPECIFIED"
)

// ClientError is caused by the caller: bad input, missing auth or
// insufficient permissions. It is reported back to the same connection.
type ClientError struct {
	Kind    error
	Message string
}

func (e *ClientError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Kind
}

func Client(kind error, format string, args ...any) *ClientError {
	return &ClientError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotPermitted(format string, args ...any) *ClientError {
	return Client(ErrNotPermitted, format, args...)
}

func Validation(format string, args ...any) *ClientError {
	return Client(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) *ClientError {
	return Client(ErrNotFound, format, args...)
}

// ServerError wraps an unexpected failure. Details are logged, clients only
// see a generic failure.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func Server(op string, err error) *ServerError {
	return &ServerError{Op: op, Err: err}
}

func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// CodeOf maps an error to the code sent to clients.
func CodeOf(err error) string {
	if !IsClientError(err) {
		return CodeUnspecified
	}

	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotPermitted), errors.Is(err, ErrInvalidTransition):
		return CodeNotPermitted
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	}
	return CodeUnspecified
}

// Description returns the text safe to show a client.
func Description(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Error()
	}
	return "internal server error"
}

// FromStorage classifies a repository error. Missing rows and the
// repository's permission, conflict and transition sentinels become client
// errors, anything else is a server error.
func FromStorage(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsClientError(err):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return NotFound("%s", op)
	case errors.Is(err, ErrNotPermitted):
		return NotPermitted("%s", op)
	case errors.Is(err, ErrConflict):
		return Client(ErrConflict, "%s", op)
	case errors.Is(err, ErrInvalidTransition):
		return Client(ErrInvalidTransition, "%s: %v", op, err)
	}
	return Server(op, err)
}
