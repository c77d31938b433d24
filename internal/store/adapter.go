package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/resilience"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
			_, ok := catalog.ParseGenre(fl.Field().String())
			return ok
		})
		_ = validate.RegisterValidation("eventkind", func(fl validator.FieldLevel) bool {
			_, ok := catalog.ParseEventKind(fl.Field().String())
			return ok
		})
	})
	return validate
}

// InvalidRecordError lists the fields of a row that failed validation.
type InvalidRecordError struct {
	ID     string
	Fields []string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %q: %s", e.ID, strings.Join(e.Fields, "; "))
}

func invalid(id string, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &InvalidRecordError{ID: id, Fields: []string{err.Error()}}
	}
	fields := make([]string, len(ve))
	for i, fe := range ve {
		if fe.Param() != "" {
			fields[i] = fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		} else {
			fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
	}
	return &InvalidRecordError{ID: id, Fields: fields}
}

// TranslateBook validates raw and converts it to a catalog.Book. Text fields
// are trimmed, the genre alias is resolved and empty authors are dropped.
func TranslateBook(raw RawBook) (catalog.Book, error) {
	raw.ID = strings.TrimSpace(raw.ID)
	raw.Title = strings.TrimSpace(raw.Title)
	authors := make([]string, 0, len(raw.Authors))
	for _, a := range raw.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	raw.Authors = authors
	if err := getValidator().Struct(raw); err != nil {
		return catalog.Book{}, invalid(raw.ID, err)
	}
	genre, _ := catalog.ParseGenre(raw.Genre)
	added := raw.AddedAt
	if added.IsZero() {
		added = raw.UpdatedAt
	}
	return catalog.Book{
		ID:          raw.ID,
		Title:       raw.Title,
		Authors:     authors,
		Genre:       genre,
		Year:        raw.Year,
		Available:   raw.Available,
		Description: strings.TrimSpace(raw.Description),
		AddedAt:     added.UTC(),
	}, nil
}

// TranslateBorrowEvent validates raw and converts it to a catalog.BorrowEvent.
func TranslateBorrowEvent(raw RawBorrowEvent) (catalog.BorrowEvent, error) {
	raw.BookID = strings.TrimSpace(raw.BookID)
	if err := getValidator().Struct(raw); err != nil {
		return catalog.BorrowEvent{}, invalid(fmt.Sprintf("borrow#%d", raw.Seq), err)
	}
	kind, _ := catalog.ParseEventKind(raw.Kind)
	return catalog.BorrowEvent{Seq: raw.Seq, BookID: raw.BookID, At: raw.At.UTC(), Kind: kind}, nil
}

// SyncResult summarizes one Sync pass.
type SyncResult struct {
	Upserted  int
	Removed   int
	Skipped   int
	Borrows   int
	Watermark int64
}

// Adapter mirrors the record store into an index and a popularity ranker.
// Sync calls are serialized.
type Adapter struct {
	src     Source
	index   *index.Index
	pop     *popularity.Ranker
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	watermark int64
}

func NewAdapter(src Source, idx *index.Index, pop *popularity.Ranker, m *metrics.Metrics) *Adapter {
	return &Adapter{
		src:     src,
		index:   idx,
		pop:     pop,
		metrics: m,
		logger:  slog.Default().With("component", "store-adapter"),
	}
}

// Watermark is the highest borrow event sequence applied so far.
func (a *Adapter) Watermark() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// Sync upserts books that changed, removes books the store no longer has,
// applies borrow events after the watermark and marks the index ready.
// Invalid rows are skipped. A failed listing leaves the index untouched.
func (a *Adapter) Sync(ctx context.Context) (SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.sync(ctx)
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.StoreSyncsTotal.WithLabelValues(status).Inc()
	}
	return res, err
}

func (a *Adapter) sync(ctx context.Context) (SyncResult, error) {
	res := SyncResult{Watermark: a.watermark}

	rawBooks, err := a.src.ListBooks(ctx)
	if err != nil {
		return res, fmt.Errorf("syncing books: %w", err)
	}
	rawEvents, err := a.src.ListBorrowEvents(ctx, a.watermark)
	if err != nil {
		return res, fmt.Errorf("syncing borrow events: %w", err)
	}

	snap := a.index.Snapshot()
	present := make(map[string]struct{}, len(rawBooks))
	var changed []catalog.Book
	for _, raw := range rawBooks {
		book, err := TranslateBook(raw)
		if err != nil {
			res.Skipped++
			a.rejected("book", err)
			continue
		}
		if _, dup := present[book.ID]; dup {
			res.Skipped++
			a.logger.Warn("duplicate book id in record store", "book_id", book.ID)
			continue
		}
		present[book.ID] = struct{}{}
		if old, ok := snap.Get(book.ID); ok && sameBook(old, book) {
			continue
		}
		changed = append(changed, book)
	}

	var missing []string
	for _, id := range snap.IDs() {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(changed) > 0 {
		if err := a.index.UpsertBatch(changed); err != nil {
			return res, fmt.Errorf("upserting books: %w", err)
		}
		res.Upserted = len(changed)
	}
	if len(missing) > 0 {
		res.Removed = a.index.RemoveBatch(missing)
		for _, id := range missing {
			a.pop.Forget(id)
		}
	}

	events := make([]catalog.BorrowEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		if raw.Seq > res.Watermark {
			res.Watermark = raw.Seq
		}
		ev, err := TranslateBorrowEvent(raw)
		if err != nil {
			res.Skipped++
			a.rejected("borrow_event", err)
			continue
		}
		events = append(events, ev)
	}
	res.Borrows = a.pop.Ingest(events...)
	a.watermark = res.Watermark

	a.index.MarkReady()
	if a.metrics != nil {
		a.metrics.IndexUpsertsTotal.Add(float64(res.Upserted))
		a.metrics.IndexRemovalsTotal.Add(float64(res.Removed))
		a.metrics.BooksIndexed.Set(float64(a.index.Len()))
		a.metrics.IndexGeneration.Set(float64(a.index.Generation()))
	}
	a.logger.Info("record store synced",
		"upserted", res.Upserted,
		"removed", res.Removed,
		"skipped", res.Skipped,
		"borrows", res.Borrows,
		"watermark", res.Watermark,
	)
	return res, nil
}

func (a *Adapter) rejected(record string, err error) {
	a.logger.Warn("skipping invalid record", "record", record, "error", err)
	if a.metrics != nil {
		a.metrics.InvalidRecords.WithLabelValues(record).Inc()
	}
}

func sameBook(a, b catalog.Book) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		slices.Equal(a.Authors, b.Authors) &&
		a.Genre == b.Genre &&
		a.Year == b.Year &&
		a.Available == b.Available &&
		a.Description == b.Description &&
		a.AddedAt.Equal(b.AddedAt)
}

// Run performs an initial sync, retrying with backoff until it succeeds or
// ctx ends, then syncs every interval. Each pass is bounded by timeout.
func (a *Adapter) Run(ctx context.Context, interval, timeout time.Duration) error {
	pass := func() error {
		return resilience.WithTimeout(ctx, timeout, "store-sync", func(ctx context.Context) error {
			_, err := a.Sync(ctx)
			return err
		})
	}

	err := resilience.Retry(ctx, "initial-store-sync", resilience.RetryConfig{
		MaxAttempts:  8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}, pass)
	if err != nil {
		return fmt.Errorf("initial record store sync: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := pass(); err != nil {
				a.logger.Error("record store sync failed", "error", err)
			}
		}
	}
}
