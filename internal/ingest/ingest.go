// Package ingest applies record-change and borrow events from Kafka to the
// index and the popularity ranker between record store syncs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// BookChange is a book-changes message. Book is required for upserts;
// BookID alone is enough for deletes.
type BookChange struct {
	Op     string         `json:"op"`
	BookID string         `json:"book_id,omitempty"`
	Book   *store.RawBook `json:"book,omitempty"`
}

// HandleBookChange returns a handler that upserts or removes books.
// Messages that can never apply are reported as kafka.ErrMalformed.
func HandleBookChange(idx *index.Index, pop *popularity.Ranker, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "book-change-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		change, err := kafka.DecodeJSON[BookChange](value)
		if err != nil {
			return err
		}
		switch strings.ToLower(change.Op) {
		case OpUpsert, "":
			if change.Book == nil {
				return fmt.Errorf("%w: upsert without book", kafka.ErrMalformed)
			}
			book, err := store.TranslateBook(*change.Book)
			if err != nil {
				if m != nil {
					m.InvalidRecords.WithLabelValues("book").Inc()
				}
				return fmt.Errorf("%w: %v", kafka.ErrMalformed, err)
			}
			if err := idx.Upsert(book); err != nil {
				return fmt.Errorf("upserting book %s: %w", book.ID, err)
			}
			if m != nil {
				m.IndexUpsertsTotal.Inc()
				m.BooksIndexed.Set(float64(idx.Len()))
			}
			logger.Debug("book upserted", "book_id", book.ID, "key", string(key))
		case OpDelete:
			id := change.BookID
			if id == "" && change.Book != nil {
				id = change.Book.ID
			}
			if id = strings.TrimSpace(id); id == "" {
				return fmt.Errorf("%w: delete without book id", kafka.ErrMalformed)
			}
			if idx.Remove(id) && m != nil {
				m.IndexRemovalsTotal.Inc()
				m.BooksIndexed.Set(float64(idx.Len()))
			}
			pop.Forget(id)
			logger.Debug("book removed", "book_id", id)
		default:
			return fmt.Errorf("%w: unknown op %q", kafka.ErrMalformed, change.Op)
		}
		return nil
	}
}

// HandleBorrowEvent returns a handler that feeds borrow and return events
// to the ranker. Borrows for unknown books are dropped by the ranker.
func HandleBorrowEvent(pop *popularity.Ranker) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		raw, err := kafka.DecodeJSON[store.RawBorrowEvent](value)
		if err != nil {
			return err
		}
		ev, err := store.TranslateBorrowEvent(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", kafka.ErrMalformed, err)
		}
		pop.Ingest(ev)
		return nil
	}
}

// Runner owns the two topic consumers.
type Runner struct {
	consumers []*kafka.Consumer
	logger    *slog.Logger
}

func NewRunner(cfg config.KafkaConfig, idx *index.Index, pop *popularity.Ranker, m *metrics.Metrics) *Runner {
	hook := func(topic, status string) {
		if m != nil {
			m.KafkaMessagesTotal.WithLabelValues(topic, status).Inc()
		}
	}
	return &Runner{
		consumers: []*kafka.Consumer{
			kafka.NewConsumer(cfg, cfg.Topics.BookChanges, HandleBookChange(idx, pop, m),
				kafka.WithGroupSuffix("books"), kafka.WithResultHook(hook)),
			kafka.NewConsumer(cfg, cfg.Topics.BorrowEvents, HandleBorrowEvent(pop),
				kafka.WithGroupSuffix("borrows"), kafka.WithResultHook(hook)),
		},
		logger: slog.Default().With("component", "ingest"),
	}
}

// Run consumes both topics until ctx ends or a consumer fails.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("event ingestion starting", "consumers", len(r.consumers))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.consumers {
		g.Go(func() error { return c.Start(ctx) })
	}
	return g.Wait()
}
