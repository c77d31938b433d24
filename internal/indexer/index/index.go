// Package index is the in-memory catalog index: facet posting lists over
// author, genre, year and availability, and a term-frequency text index over
// title, description, authors and genre.
//
// Books are spread over shards by xxhash of their ID. Each shard publishes
// immutable generations through an atomic pointer; a writer takes the shard
// mutex, builds the next generation copy-on-write and swaps it in. Readers
// never lock: a Snapshot pins one generation per shard, so every query sees
// each book either fully before or fully after a concurrent update.
package index

import (
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
)

type partition struct {
	mu  sync.Mutex
	cur atomic.Pointer[generation]
}

// Index is safe for concurrent use by any number of readers and writers.
type Index struct {
	router  shard.Router
	shards  []*partition
	commits atomic.Uint64
	ready   atomic.Bool
	logger  *slog.Logger
}

// New creates an empty index with numShards shards (minimum 1).
func New(numShards int) *Index {
	router := shard.NewRouter(numShards)
	idx := &Index{
		router: router,
		shards: make([]*partition, router.NumShards()),
		logger: slog.Default().With("component", "catalog-index"),
	}
	for i := range idx.shards {
		s := &partition{}
		s.cur.Store(emptyGeneration())
		idx.shards[i] = s
	}
	return idx
}

func (idx *Index) shardOf(bookID string) *partition {
	return idx.shards[idx.router.Route(bookID)]
}

// Upsert inserts book or replaces the previous version, retracting every
// posting of the old version in the same generation swap.
func (idx *Index) Upsert(book catalog.Book) error {
	if book.ID == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "book id is required")
	}
	s := idx.shardOf(book.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := newBuilder(s.cur.Load())
	b.upsert(book)
	idx.publish(s, b)
	return nil
}

// Remove deletes every posting for bookID and reports whether it was
// indexed.
func (idx *Index) Remove(bookID string) bool {
	s := idx.shardOf(bookID)
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.cur.Load()
	if _, ok := base.books.get(bookID); !ok {
		return false
	}
	b := newBuilder(base)
	b.remove(bookID)
	idx.publish(s, b)
	return true
}

// UpsertBatch applies books with one generation swap per touched shard.
// Books with an empty ID are skipped and counted in the returned error.
func (idx *Index) UpsertBatch(books []catalog.Book) error {
	valid := make([]catalog.Book, 0, len(books))
	for _, book := range books {
		if book.ID != "" {
			valid = append(valid, book)
		}
	}
	skipped := len(books) - len(valid)
	for n, batch := range shard.Group(idx.router, valid, idOf) {
		s := idx.shards[n]
		s.mu.Lock()
		b := newBuilder(s.cur.Load())
		for _, book := range batch {
			b.upsert(book)
		}
		idx.publish(s, b)
		s.mu.Unlock()
	}
	if skipped > 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%d books without id skipped", skipped)
	}
	return nil
}

// RemoveBatch removes ids with one generation swap per touched shard and
// returns how many were actually indexed.
func (idx *Index) RemoveBatch(ids []string) int {
	removed := 0
	for n, batch := range shard.Group(idx.router, ids, func(id string) string { return id }) {
		s := idx.shards[n]
		s.mu.Lock()
		b := newBuilder(s.cur.Load())
		changed := false
		for _, id := range batch {
			if b.remove(id) {
				removed++
				changed = true
			}
		}
		if changed {
			idx.publish(s, b)
		}
		s.mu.Unlock()
	}
	return removed
}

// Rebuild replaces the whole corpus with books. Each shard swaps to a
// generation built from scratch, so readers never see a mix of old and new
// books within one shard.
func (idx *Index) Rebuild(books []catalog.Book) {
	byShard := shard.Group(idx.router, books, idOf)
	for n, s := range idx.shards {
		s.mu.Lock()
		fresh := emptyGeneration()
		fresh.seq = s.cur.Load().seq
		b := newBuilder(fresh)
		for _, book := range byShard[n] {
			if book.ID != "" {
				b.upsert(book)
			}
		}
		idx.publish(s, b)
		s.mu.Unlock()
	}
	idx.logger.Info("index rebuilt", "books", len(books), "shards", len(idx.shards))
}

func (idx *Index) publish(s *partition, b *builder) {
	s.cur.Store(b.next)
	idx.commits.Add(1)
}

// Get returns the indexed version of a book.
func (idx *Index) Get(bookID string) (catalog.Book, bool) {
	e, ok := idx.shardOf(bookID).cur.Load().books.get(bookID)
	if !ok {
		return catalog.Book{}, false
	}
	return e.book, true
}

// Contains reports whether bookID is indexed.
func (idx *Index) Contains(bookID string) bool {
	_, ok := idx.shardOf(bookID).cur.Load().books.get(bookID)
	return ok
}

// Len returns the number of indexed books.
func (idx *Index) Len() int {
	n := 0
	for _, s := range idx.shards {
		n += s.cur.Load().books.len()
	}
	return n
}

// Generation is a monotonic count of committed mutations.
func (idx *Index) Generation() uint64 {
	return idx.commits.Load()
}

// MarkReady records that the initial load from the record store finished.
func (idx *Index) MarkReady() {
	if !idx.ready.Swap(true) {
		idx.logger.Info("index ready", "books", idx.Len())
	}
}

// Ready reports whether MarkReady has been called.
func (idx *Index) Ready() bool {
	return idx.ready.Load()
}

// NumShards returns the shard count fixed at construction.
func (idx *Index) NumShards() int {
	return len(idx.shards)
}

// Snapshot pins the current generation of every shard.
func (idx *Index) Snapshot() *Snapshot {
	gens := make([]*generation, len(idx.shards))
	for i, s := range idx.shards {
		gens[i] = s.cur.Load()
	}
	return &Snapshot{router: idx.router, gens: gens}
}

// QueryFacets runs Snapshot().QueryFacets.
func (idx *Index) QueryFacets(filters catalog.Filters) []string {
	return idx.Snapshot().QueryFacets(filters)
}

// QueryText runs Snapshot().QueryText.
func (idx *Index) QueryText(text string) iter.Seq[Hit] {
	return idx.Snapshot().QueryText(text)
}

func idOf(b catalog.Book) string { return b.ID }

func (idx *Index) String() string {
	return fmt.Sprintf("index{shards=%d books=%d generation=%d}", len(idx.shards), idx.Len(), idx.Generation())
}
