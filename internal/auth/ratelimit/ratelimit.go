// Package ratelimit keeps one token bucket per key. Buckets refill
// continuously at the key's per-minute allowance with a burst equal to that
// allowance.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth"
	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	perMin   int
	lastSeen time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu            sync.Mutex
	entries       map[string]*entry
	defaultPerMin int
	now           func() time.Time
}

// New creates a Limiter granting defaultPerMin requests per minute to keys
// that do not ask for their own allowance.
func New(defaultPerMin int) *Limiter {
	if defaultPerMin < 1 {
		defaultPerMin = 1
	}
	return &Limiter{
		entries:       make(map[string]*entry),
		defaultPerMin: defaultPerMin,
		now:           time.Now,
	}
}

// Allow consumes one token for key at the default allowance.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 0)
}

// AllowN consumes one token for key, whose allowance is perMin requests per
// minute (zero means the default). Changing a key's allowance resets its
// bucket.
func (l *Limiter) AllowN(key string, perMin int) bool {
	if perMin <= 0 {
		perMin = l.defaultPerMin
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok || e.perMin != perMin {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60), perMin),
			perMin:  perMin,
		}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Reset forgets key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run evicts buckets idle for more than idle until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(idle)
		}
	}
}

func (l *Limiter) evict(idle time.Duration) {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Middleware limits requests per authenticated identity, using the
// identity's own allowance when it has one. Anonymous requests are keyed by
// remote address. Health paths are exempt.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			key, perMin := "addr:"+remoteHost(r), 0
			if id, ok := auth.FromContext(r.Context()); ok {
				key, perMin = id.ID, id.RateLimit
			}
			if !l.AllowN(key, perMin) {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"rate limit exceeded","retryable":true}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
