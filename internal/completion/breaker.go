package completion

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/resilience"
)

// Breaker stops calling a failing completion service for a while. Only
// timeouts, unavailability and malformed replies count as failures; a
// rejected request says nothing about the service's health.
type Breaker struct {
	next Completer
	cb   *resilience.CircuitBreaker[string]
}

// NewBreaker wraps next. The breaker's state is exported on m under name.
func NewBreaker(name string, next Completer, cfg resilience.CircuitBreakerConfig, m *metrics.Metrics) *Breaker {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || KindOf(err) == KindRejected || errors.Is(err, context.Canceled)
	}
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		if m != nil {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(resilience.StateClosed))
	}
	return &Breaker{next: next, cb: resilience.NewCircuitBreaker[string](name, cfg)}
}

func (b *Breaker) Complete(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	return out, err
}

// State returns the breaker's current state.
func (b *Breaker) State() resilience.State {
	return b.cb.GetState()
}
