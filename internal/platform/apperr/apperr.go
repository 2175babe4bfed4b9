// Package apperr classifies domain errors so transport layers can map them
// to status codes without knowing each domain's sentinels.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrInvalid      = errors.New("invalid request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrUpstream     = errors.New("upstream failure")
)

// Error carries a human-readable message and the kind it belongs to.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) error {
	return newf(ErrInvalid, format, args...)
}

func NotFound(what string) error {
	return newf(ErrNotFound, "%s not found", what)
}

func Conflict(format string, args ...interface{}) error {
	return newf(ErrConflict, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newf(ErrUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newf(ErrForbidden, format, args...)
}

// Upstream wraps a failure of an external collaborator.
func Upstream(what string, err error) error {
	return &Error{Kind: ErrUpstream, Msg: fmt.Sprintf("%s: %v", what, err)}
}

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HTTP converts err into an echo error. Unclassified errors are reported
// as a generic 500 so driver messages never reach clients.
func HTTP(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
