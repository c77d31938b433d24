package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type memSource struct {
	mu       sync.Mutex
	books    []RawBook
	events   []RawBorrowEvent
	failures int
}

func (s *memSource) ListBooks(context.Context) ([]RawBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection refused")
	}
	return append([]RawBook(nil), s.books...), nil
}

func (s *memSource) ListBorrowEvents(_ context.Context, since int64) ([]RawBorrowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RawBorrowEvent
	for _, ev := range s.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func rawBook(id, title, genre string) RawBook {
	return RawBook{ID: id, Title: title, Authors: []string{"Some Author"}, Genre: genre, Year: 2001, Available: 1, AddedAt: t0}
}

func borrow(seq int64, id string) RawBorrowEvent {
	return RawBorrowEvent{Seq: seq, BookID: id, At: t0.Add(time.Duration(seq) * time.Minute), Kind: "borrow"}
}

func TestTranslateBook(t *testing.T) {
	book, err := TranslateBook(RawBook{
		ID:      " b1 ",
		Title:   "  Dune ",
		Authors: []string{"Frank Herbert", "  "},
		Genre:   "Science Fiction",
		Year:    1965,
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", book.ID)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, []string{"Frank Herbert"}, book.Authors)
	assert.Equal(t, catalog.GenreSciFi, book.Genre)
}

func TestTranslateBookInvalid(t *testing.T) {
	_, err := TranslateBook(RawBook{ID: "b2", Genre: "cookbook", Year: 1990, Available: -1})
	var ire *InvalidRecordError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "b2", ire.ID)
	assert.Len(t, ire.Fields, 3)
	assert.Contains(t, err.Error(), "Title failed required")
	assert.Contains(t, err.Error(), "Genre failed genre")
	assert.Contains(t, err.Error(), "Available failed gte=0")
}

func TestTranslateBorrowEvent(t *testing.T) {
	ev, err := TranslateBorrowEvent(RawBorrowEvent{Seq: 3, BookID: "b1", At: t0, Kind: "RETURN"})
	require.NoError(t, err)
	assert.Equal(t, catalog.EventReturn, ev.Kind)

	_, err = TranslateBorrowEvent(RawBorrowEvent{Seq: 4, BookID: "b1", At: t0, Kind: "renew"})
	assert.Error(t, err)
	_, err = TranslateBorrowEvent(RawBorrowEvent{Seq: 5, BookID: "b1", Kind: "borrow"})
	assert.Error(t, err)
}

type syncFixture struct {
	src     *memSource
	idx     *index.Index
	pop     *popularity.Ranker
	adapter *Adapter
	metrics *metrics.Metrics
}

func newSyncFixture(src *memSource) *syncFixture {
	idx := index.New(2)
	pop := popularity.New(popularity.Options{Shards: 2, Exists: idx.Contains})
	m := metrics.NewNop()
	return &syncFixture{src: src, idx: idx, pop: pop, metrics: m, adapter: NewAdapter(src, idx, pop, m)}
}

func TestSyncMirrorsStore(t *testing.T) {
	f := newSyncFixture(&memSource{
		books: []RawBook{
			rawBook("a", "Foundation", "sci-fi"),
			rawBook("b", "The Hobbit", "fantasy"),
			rawBook("c", "", "fantasy"),
		},
		events: []RawBorrowEvent{borrow(1, "a"), borrow(2, "a"), borrow(3, "b"), borrow(4, "ghost")},
	})
	require.False(t, f.idx.Ready())

	res, err := f.adapter.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, f.idx.Ready())
	assert.Equal(t, SyncResult{Upserted: 2, Skipped: 1, Borrows: 3, Watermark: 4}, res)
	assert.Equal(t, []string{"a", "b"}, f.idx.Snapshot().IDs())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InvalidRecords.WithLabelValues("book")))

	score, ok := f.pop.Score("a", t0.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, int64(2), score.AllTime)

	// b is retitled, a is gone, d is new, and more borrows arrive.
	f.src.books = []RawBook{
		rawBook("b", "The Hobbit, or There and Back Again", "fantasy"),
		rawBook("d", "Emma", "romance"),
	}
	f.src.events = append(f.src.events, borrow(5, "b"), borrow(6, "d"))
	genBefore := f.idx.Generation()

	res, err = f.adapter.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Upserted: 2, Removed: 1, Borrows: 2, Watermark: 6}, res)
	assert.Equal(t, []string{"b", "d"}, f.idx.Snapshot().IDs())
	assert.Greater(t, f.idx.Generation(), genBefore)
	_, ok = f.pop.Score("a", t0)
	assert.False(t, ok)
	b, _ := f.idx.Get("b")
	assert.Equal(t, "The Hobbit, or There and Back Again", b.Title)
	assert.Equal(t, int64(6), f.adapter.Watermark())
}

func TestSyncUnchangedBooksNotRewritten(t *testing.T) {
	f := newSyncFixture(&memSource{books: []RawBook{rawBook("a", "Foundation", "sci-fi")}})
	_, err := f.adapter.Sync(context.Background())
	require.NoError(t, err)
	gen := f.idx.Generation()

	res, err := f.adapter.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Upserted)
	assert.Equal(t, gen, f.idx.Generation())
}

func TestSyncFailureLeavesIndexUntouched(t *testing.T) {
	f := newSyncFixture(&memSource{books: []RawBook{rawBook("a", "Foundation", "sci-fi")}, failures: 1})

	_, err := f.adapter.Sync(context.Background())
	require.Error(t, err)
	assert.False(t, f.idx.Ready())
	assert.Zero(t, f.idx.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreSyncsTotal.WithLabelValues("error")))
}

func TestRunRetriesInitialSync(t *testing.T) {
	f := newSyncFixture(&memSource{books: []RawBook{rawBook("a", "Foundation", "sci-fi")}, failures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.adapter.Run(ctx, time.Hour, time.Second) }()

	require.Eventually(t, f.idx.Ready, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.idx.Len())
}
