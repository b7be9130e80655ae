// Package errors defines the error taxonomy shared by every layer of the
// service and its mapping onto HTTP status codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrIndexUnavailable = errors.New("index unavailable")
	ErrBuildFailed      = errors.New("index build failed")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// AppError carries a user-facing message alongside the sentinel it wraps.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Invalid is shorthand for a 400 with the given message.
func Invalid(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, http.StatusBadRequest, format, args...)
}

// NotFound is shorthand for a 404 with the given message.
func NotFound(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that may be shown to a client. Internal
// failures are reduced to a generic message so storage details never leak.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch HTTPStatusCode(err) {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusGatewayTimeout:
		return "request timeout"
	}
	return err.Error()
}
