package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidPageParameters = errors.New("invalid page parameters")
	ErrRetrievalUnavailable  = errors.New("retrieval unavailable")
	ErrGenerationFailed      = errors.New("generation failed")
	ErrHallucinationRejected = errors.New("hallucination rejected")
	ErrBookNotFound          = errors.New("book not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInternal              = errors.New("internal error")
	ErrTimeout               = errors.New("operation timed out")
)

// AppError carries a sentinel kind, a caller-facing message, the HTTP status
// it maps to, and whether retrying the same request may succeed.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Transient  bool
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

// Transient builds an AppError that callers may retry.
func Transient(sentinel error, statusCode int, format string, args ...any) *AppError {
	e := Newf(sentinel, statusCode, format, args...)
	e.Transient = true
	return e
}

// IsTransient reports whether err is worth retrying unchanged.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Transient
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrRetrievalUnavailable)
}

// Kind returns the stable machine-readable name of err's sentinel.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPageParameters):
		return "invalid_page_parameters"
	case errors.Is(err, ErrRetrievalUnavailable):
		return "retrieval_unavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, ErrHallucinationRejected):
		return "hallucination_rejected"
	case errors.Is(err, ErrBookNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// Message returns the caller-facing message of err, falling back to the
// sentinel text so internal wrapping never leaks.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch Kind(err) {
	case "internal":
		return ErrInternal.Error()
	default:
		return err.Error()
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidPageParameters):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRetrievalUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}

}
