package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-messenger/internal/errs"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

// fromError maps a service error to its HTTP form. Client errors keep
// their description; anything else is an opaque 500.
func fromError(err error) *ApiError {
	if !errs.IsClientError(err) {
		return NewInternalServerError(err)
	}

	var e *ApiError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		e = NewNotFoundError()
	case errors.Is(err, errs.ErrNotPermitted):
		e = NewForbiddenError()
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrInvalidTransition):
		e = NewConflictError()
	case errors.Is(err, errs.ErrAuthRequired), errors.Is(err, errs.ErrInvalidAuthCredentials):
		e = NewUnauthorizedError()
	default:
		e = NewBadRequestError()
	}
	e.Message = errs.Description(err)
	e.Err = err
	return e
}
