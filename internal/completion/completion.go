// Package completion is the narrow interface to an external text
// completion service, plus an OpenAI-compatible HTTP implementation and a
// circuit-breaking wrapper.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one completion call. Context is the grounding text the model
// must answer from; Utterance is the user's message.
type Request struct {
	Context   string
	Utterance string
	MaxTokens int
	Timeout   time.Duration
}

// Completer produces free-form text for a grounded request. Implementations
// must honour ctx and Request.Timeout.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Kind classifies completion failures.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindUnavailable
	KindMalformed
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is returned by Completer implementations in this package.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
