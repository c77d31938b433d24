package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
)

// maxBatch caps how many queued events go out in one Kafka write.
const maxBatch = 100

// Collector publishes analytics events to Kafka from a background
// goroutine. Track never blocks; events are dropped when the buffer is
// full.
type Collector struct {
	publisher kafka.Publisher
	eventCh   chan Envelope
	metrics   *metrics.Metrics
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func NewCollector(publisher kafka.Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan Envelope, bufferSize),
		metrics:   m,
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case env, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, c.batch(env))
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// batch gathers first plus whatever is already queued, up to maxBatch.
func (c *Collector) batch(first Envelope) []Envelope {
	out := []Envelope{first}
	for len(out) < maxBatch {
		select {
		case env, ok := <-c.eventCh:
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
	return out
}

// Track queues a SearchEvent or ChatEvent.
func (c *Collector) Track(event any) {
	env, ok := Wrap(event)
	if !ok {
		c.logger.Warn("ignoring unknown analytics event", "event", event)
		return
	}
	select {
	case c.eventCh <- env:
	default:
		c.count(env.Type, "dropped")
		c.logger.Warn("analytics event dropped (buffer full)", "type", env.Type)
	}
}

// Close stops accepting events and waits for the queue to drain. Start must
// have been called.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

func (c *Collector) publish(ctx context.Context, envs []Envelope) {
	events := make([]kafka.Event, len(envs))
	for i, env := range envs {
		events[i] = kafka.Event{Key: string(env.Type), Value: env}
	}
	if err := c.publisher.PublishBatch(ctx, events); err != nil {
		for _, env := range envs {
			c.count(env.Type, "error")
		}
		c.logger.Error("failed to publish analytics events", "count", len(envs), "error", err)
		return
	}
	for _, env := range envs {
		c.count(env.Type, "published")
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case env, ok := <-c.eventCh:
			if !ok {
				return
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.publish(flushCtx, c.batch(env))
			cancel()
		default:
			return
		}
	}
}

func (c *Collector) count(t EventType, status string) {
	if c.metrics != nil {
		c.metrics.AnalyticsEventsTotal.WithLabelValues(string(t), status).Inc()
	}
}
