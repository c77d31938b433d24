// Package popularity keeps per-book borrow statistics: an all-time borrow
// count and an exponentially decayed "trending" score.
//
// The decayed score of a book at time now is
//
//	sum over its borrows t of exp(-λ·(now − t))
//
// It is stored as its value at the most recent borrow and decayed on read,
// so no background clock is needed. Because every book decays by the same
// factor, the relative order of two books only changes when a borrow
// arrives; rankings are therefore stable between events.
package popularity

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/cespare/xxhash/v2"
)

// DefaultHalfLife is the time for a borrow's trending weight to halve.
const DefaultHalfLife = 30 * 24 * time.Hour

// LambdaForHalfLife converts a half-life into a per-second decay constant.
func LambdaForHalfLife(halfLife time.Duration) float64 {
	return math.Ln2 / halfLife.Seconds()
}

// Kind selects a ranking order.
type Kind int

const (
	AllTime Kind = iota
	Trending
)

func (k Kind) String() string {
	switch k {
	case AllTime:
		return "all_time"
	case Trending:
		return "trending"
	default:
		return "unknown"
	}
}

// Score is a book's borrow statistics. Decayed is evaluated at the time
// passed to the call that produced it.
type Score struct {
	BookID  string  `json:"book_id"`
	AllTime int64   `json:"all_time"`
	Decayed float64 `json:"decayed"`
}

// Value returns the sort key for kind.
func (s Score) Value(kind Kind) float64 {
	if kind == AllTime {
		return float64(s.AllTime)
	}
	return s.Decayed
}

// stat is immutable once published. decayed is the score as of last.
type stat struct {
	allTime int64
	decayed float64
	last    time.Time
}

func (s stat) at(now time.Time, lambda float64) float64 {
	return s.decayed * math.Exp(-lambda*now.Sub(s.last).Seconds())
}

type table struct {
	seq   uint64
	stats map[string]stat
}

type partition struct {
	mu  sync.Mutex
	cur atomic.Pointer[table]
}

// Options configures a Ranker.
type Options struct {
	HalfLife time.Duration
	Shards   int
	// Exists reports whether a book is known. Borrows for unknown books are
	// dropped. Nil accepts every book.
	Exists func(bookID string) bool
	// SeenLimit bounds the out-of-order sequence numbers remembered for
	// deduplication. Zero uses a default.
	SeenLimit int
	Metrics   *metrics.Metrics
}

// Ranker is safe for concurrent use. Writes to one book are serialized by
// its shard's mutex; reads never lock.
type Ranker struct {
	router  shard.Router
	shards  []*partition
	lambda  float64
	exists  func(string) bool
	seen    *seenSeqs
	metrics *metrics.Metrics
	events  atomic.Uint64
	logger  *slog.Logger
}

// New creates a Ranker, applying DefaultHalfLife and a single shard when
// unset.
func New(opts Options) *Ranker {
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultHalfLife
	}
	if opts.Shards < 1 {
		opts.Shards = 1
	}
	r := &Ranker{
		router:  shard.NewRouter(opts.Shards),
		shards:  make([]*partition, opts.Shards),
		lambda:  LambdaForHalfLife(opts.HalfLife),
		exists:  opts.Exists,
		seen:    newSeenSeqs(opts.SeenLimit),
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "popularity-ranker"),
	}
	for i := range r.shards {
		s := &partition{}
		s.cur.Store(&table{stats: map[string]stat{}})
		r.shards[i] = s
	}
	return r
}

// Lambda returns the decay constant per second.
func (r *Ranker) Lambda() float64 {
	return r.lambda
}

// Ingest applies events, grouping them so each touched shard publishes once.
// Return events never change scores. An event whose Seq was already consumed
// is skipped, so the store poll and the event stream may both deliver it.
// It returns how many borrows were applied.
func (r *Ranker) Ingest(events ...catalog.BorrowEvent) int {
	byShard := make(map[int][]catalog.BorrowEvent)
	for _, ev := range events {
		if !r.seen.admit(ev.Seq) {
			r.count("duplicate")
			continue
		}
		switch ev.Kind {
		case catalog.EventReturn:
			r.count("return")
			continue
		case catalog.EventBorrow:
		default:
			r.logger.Warn("ignoring borrow event with unknown kind", "book_id", ev.BookID, "kind", ev.Kind)
			continue
		}
		if r.exists != nil && !r.exists(ev.BookID) {
			r.logger.Warn("data consistency: borrow for unknown book dropped",
				"book_id", ev.BookID,
				"at", ev.At,
				"seq", ev.Seq,
			)
			if r.metrics != nil {
				r.metrics.UnknownBookBorrows.Inc()
			}
			continue
		}
		n := r.router.Route(ev.BookID)
		byShard[n] = append(byShard[n], ev)
	}

	applied := 0
	for n, batch := range byShard {
		s := r.shards[n]
		s.mu.Lock()
		base := s.cur.Load()
		next := &table{seq: base.seq + 1, stats: maps.Clone(base.stats)}
		for _, ev := range batch {
			next.stats[ev.BookID] = r.apply(next.stats[ev.BookID], ev.At)
			applied++
		}
		s.cur.Store(next)
		s.mu.Unlock()
	}
	if applied > 0 {
		r.events.Add(uint64(applied))
		if r.metrics != nil {
			r.metrics.BorrowEventsTotal.WithLabelValues("borrow").Add(float64(applied))
		}
	}
	return applied
}

// apply folds one borrow at t into st. A borrow older than the last one
// adds its already-decayed contribution, keeping the result equal to
// DecayedScore regardless of arrival order.
func (r *Ranker) apply(st stat, t time.Time) stat {
	st.allTime++
	switch {
	case st.last.IsZero():
		st.decayed = 1
		st.last = t
	case t.Before(st.last):
		st.decayed += math.Exp(-r.lambda * st.last.Sub(t).Seconds())
	default:
		st.decayed = st.at(t, r.lambda) + 1
		st.last = t
	}
	return st
}

func (r *Ranker) count(kind string) {
	if r.metrics != nil {
		r.metrics.BorrowEventsTotal.WithLabelValues(kind).Inc()
	}
}

// Forget drops a book's statistics, e.g. after it leaves the catalog.
func (r *Ranker) Forget(bookID string) {
	s := r.shards[r.router.Route(bookID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.cur.Load()
	if _, ok := base.stats[bookID]; !ok {
		return
	}
	next := &table{seq: base.seq + 1, stats: maps.Clone(base.stats)}
	delete(next.stats, bookID)
	s.cur.Store(next)
}

// Reset clears every score and forgets consumed sequence numbers.
func (r *Ranker) Reset() {
	r.seen.reset()
	for _, s := range r.shards {
		s.mu.Lock()
		s.cur.Store(&table{seq: s.cur.Load().seq + 1, stats: map[string]stat{}})
		s.mu.Unlock()
	}
	r.logger.Info("popularity reset")
}

// EventsApplied returns the total number of borrows applied.
func (r *Ranker) EventsApplied() uint64 {
	return r.events.Load()
}

// Score returns a book's statistics evaluated at now.
func (r *Ranker) Score(bookID string, now time.Time) (Score, bool) {
	return r.Snapshot(now).Score(bookID)
}

// RankingSnapshot returns every book with at least one borrow ordered by
// kind, ties broken by ID ascending.
func (r *Ranker) RankingSnapshot(kind Kind, now time.Time) []string {
	return r.Snapshot(now).Ranking(kind)
}

// Snapshot pins the current table of every shard and evaluates decayed
// scores at now.
func (r *Ranker) Snapshot(now time.Time) *Snapshot {
	tables := make([]*table, len(r.shards))
	for i, s := range r.shards {
		tables[i] = s.cur.Load()
	}
	return &Snapshot{router: r.router, tables: tables, now: now, lambda: r.lambda}
}

// Snapshot is an immutable view of the ranker.
type Snapshot struct {
	router shard.Router
	tables []*table
	now    time.Time
	lambda float64
}

// Now returns the evaluation time of decayed scores.
func (s *Snapshot) Now() time.Time {
	return s.now
}

// Version identifies the pinned tables. Orderings from snapshots with equal
// versions are identical whatever their evaluation times.
func (s *Snapshot) Version() uint64 {
	buf := make([]byte, 8*len(s.tables))
	for i, t := range s.tables {
		binary.LittleEndian.PutUint64(buf[i*8:], t.seq)
	}
	return xxhash.Sum64(buf)
}

// Score returns bookID's statistics. ok is false for books never borrowed.
func (s *Snapshot) Score(bookID string) (Score, bool) {
	st, ok := s.tables[s.router.Route(bookID)].stats[bookID]
	if !ok {
		return Score{BookID: bookID}, false
	}
	return Score{BookID: bookID, AllTime: st.allTime, Decayed: st.at(s.now, s.lambda)}, true
}

// Len returns the number of books with at least one borrow.
func (s *Snapshot) Len() int {
	n := 0
	for _, t := range s.tables {
		n += len(t.stats)
	}
	return n
}

// Ranking orders every scored book by kind, ties by ID ascending.
func (s *Snapshot) Ranking(kind Kind) []string {
	scores := make([]Score, 0, s.Len())
	for _, t := range s.tables {
		for id, st := range t.stats {
			scores = append(scores, Score{BookID: id, AllTime: st.allTime, Decayed: st.at(s.now, s.lambda)})
		}
	}
	SortScores(scores, kind)
	ids := make([]string, len(scores))
	for i, sc := range scores {
		ids[i] = sc.BookID
	}
	return ids
}

// SortScores orders scores by kind descending, then BookID ascending.
func SortScores(scores []Score, kind Kind) {
	slices.SortFunc(scores, func(a, b Score) int {
		return Compare(a, b, kind)
	})
}

// Compare orders a before b when a ranks higher under kind; equal values
// fall back to BookID ascending, so the order is total.
func Compare(a, b Score, kind Kind) int {
	va, vb := a.Value(kind), b.Value(kind)
	switch {
	case va > vb:
		return -1
	case va < vb:
		return 1
	}
	return strings.Compare(a.BookID, b.BookID)
}

// DecayedScore is the reference definition of the trending score: the sum
// of exp(-λ·(now − t)) over borrows.
func DecayedScore(borrows []time.Time, now time.Time, lambda float64) float64 {
	total := 0.0
	for _, t := range borrows {
		total += math.Exp(-lambda * now.Sub(t).Seconds())
	}
	return total
}

func (r *Ranker) String() string {
	return fmt.Sprintf("ranker{shards=%d events=%d}", len(r.shards), r.EventsApplied())
}
