// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// ErrMalformed marks a message that can never be processed. The consumer
// commits past it instead of leaving it for redelivery.
var ErrMalformed = errors.New("malformed message")

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ResultHook observes the outcome of every message: "ok", "malformed" or
// "error".
type ResultHook func(topic, status string)

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	logger  *slog.Logger
	handler MessageHandler
	onDone  ResultHook
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	startOffset int64
	groupSuffix string
	onDone      ResultHook
}

// FromBeginning makes a new consumer group start at the oldest retained
// offset instead of the newest.
func FromBeginning() ConsumerOption {
	return func(o *consumerOptions) { o.startOffset = kafka.FirstOffset }
}

// WithGroupSuffix appends suffix to the configured consumer group, giving
// each topic consumer its own group.
func WithGroupSuffix(suffix string) ConsumerOption {
	return func(o *consumerOptions) { o.groupSuffix = suffix }
}

// WithResultHook registers a callback for per-message outcomes.
func WithResultHook(h ResultHook) ConsumerOption {
	return func(o *consumerOptions) { o.onDone = h }
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{startOffset: kafka.LastOffset}
	for _, opt := range opts {
		opt(&o)
	}
	group := cfg.ConsumerGroup
	if o.groupSuffix != "" {
		group = group + "-" + o.groupSuffix
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: o.startOffset,
	})

	return &Consumer{
		reader:  r,
		topic:   topic,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
		handler: handler,
		onDone:  o.onDone,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			if !errors.Is(err, ErrMalformed) {
				c.report("error")
				c.logger.Error("failed to process message",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				continue
			}
			c.report("malformed")
			c.logger.Warn("skipping malformed message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		} else {
			c.report("ok")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) report(status string) {
	if c.onDone != nil {
		c.onDone(c.topic, status)
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
// Decode failures wrap ErrMalformed.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return result, nil
}
