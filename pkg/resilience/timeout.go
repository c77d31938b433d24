package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
)

// WithTimeout bounds fn to timeout. On expiry it returns without waiting for
// fn; the error matches both apperrors.ErrTimeout and
// context.DeadlineExceeded. fn must honour its context, and a result that
// arrives after the deadline is logged and discarded. A cancelled parent is
// reported as such.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer cancel()
		err := fn(tctx)
		if expired(ctx, tctx) {
			slog.Warn("operation finished after its deadline",
				"operation", name,
				"elapsed", time.Since(start),
				"limit", timeout,
				"error", err,
			)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if !expired(ctx, tctx) {
			return err
		}
	case <-tctx.Done():
		if ctx.Err() == nil && !expired(ctx, tctx) {
			// fn returned and its deferred cancel won the race.
			return <-done
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
}

// expired reports whether tctx hit its own deadline while parent was live.
func expired(parent, tctx context.Context) bool {
	return errors.Is(tctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}
