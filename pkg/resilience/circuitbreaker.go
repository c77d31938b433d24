// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	// IsSuccessful decides whether an error counts against the breaker.
	// A nil func counts every non-nil error as a failure.
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to State)
}

func defaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker trips open after FailureThreshold consecutive failures.
// After ResetTimeout it moves to half-open and lets probe requests through.
type CircuitBreaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// NewCircuitBreaker creates a CircuitBreaker with the given config, filling
// in defaults for zero values.
func NewCircuitBreaker[T any](name string, cfg CircuitBreakerConfig) *CircuitBreaker[T] {
	defaults := defaultCBConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}
	logger := slog.Default().With("component", "circuit-breaker", "name", name)
	threshold := uint32(cfg.FailureThreshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenMaxRequests),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures < threshold {
				return false
			}
			logger.Warn("circuit opened",
				"consecutive_failures", counts.ConsecutiveFailures,
				"threshold", threshold,
			)
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit state change", "from", fromGobreaker(from), "to", fromGobreaker(to))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = cfg.IsSuccessful
	}

	return &CircuitBreaker[T]{
		name: name,
		cb:   gobreaker.NewCircuitBreaker[T](settings),
	}
}

// Execute runs fn if the circuit allows it, recording success or failure.
// Rejections wrap ErrCircuitOpen.
func (cb *CircuitBreaker[T]) Execute(fn func() (T, error)) (T, error) {
	result, err := cb.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %s (%v)", ErrCircuitOpen, cb.name, err)
	}
	return result, err
}

// GetState returns the current State of the circuit breaker.
func (cb *CircuitBreaker[T]) GetState() State {
	return fromGobreaker(cb.cb.State())
}

// Name returns the breaker's name, also used as its metrics label.
func (cb *CircuitBreaker[T]) Name() string {
	return cb.name
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
