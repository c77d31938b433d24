package index

import (
	"encoding/binary"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/merger"
	"github.com/cespare/xxhash/v2"
)

// Hit is a text match. Score is the summed term frequency of the query's
// distinct terms in the book; zero when the query had no terms.
type Hit struct {
	BookID string
	Score  int
}

// Snapshot is a point-in-time view over every shard. It is immutable and
// safe to share between goroutines.
type Snapshot struct {
	router shard.Router
	gens   []*generation
}

// Version identifies the exact set of pinned generations. Two snapshots
// with equal versions return identical results for every query.
func (s *Snapshot) Version() uint64 {
	buf := make([]byte, 8*len(s.gens))
	for i, g := range s.gens {
		binary.LittleEndian.PutUint64(buf[i*8:], g.seq)
	}
	return xxhash.Sum64(buf)
}

// Len returns the number of books in the snapshot.
func (s *Snapshot) Len() int {
	n := 0
	for _, g := range s.gens {
		n += g.books.len()
	}
	return n
}

// Get returns the book with the given ID as of the snapshot.
func (s *Snapshot) Get(bookID string) (catalog.Book, bool) {
	e, ok := s.gens[s.router.Route(bookID)].books.get(bookID)
	if !ok {
		return catalog.Book{}, false
	}
	return e.book, true
}

// Contains reports whether bookID is in the snapshot.
func (s *Snapshot) Contains(bookID string) bool {
	_, ok := s.gens[s.router.Route(bookID)].books.get(bookID)
	return ok
}

// Books resolves ids in order, skipping any not in the snapshot.
func (s *Snapshot) Books(ids []string) []catalog.Book {
	out := make([]catalog.Book, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.Get(id); ok {
			out = append(out, b)
		}
	}
	return out
}

// IDs returns every indexed book ID in ascending order.
func (s *Snapshot) IDs() []string {
	perShard := make([][]string, len(s.gens))
	for i, g := range s.gens {
		ids := make([]string, 0, g.books.len())
		for id := range g.books.keys() {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		perShard[i] = ids
	}
	return merger.Merge(perShard, strings.Compare)
}

// QueryFacets returns the sorted IDs matching every facet in filters (AND)
// with any of that facet's values (OR). No filters yields every ID. An
// unknown facet or value matches nothing and is not an error.
func (s *Snapshot) QueryFacets(filters catalog.Filters) []string {
	filters = filters.Normalized()
	if len(filters) == 0 {
		return s.IDs()
	}
	perShard := make([][]string, len(s.gens))
	for i, g := range s.gens {
		perShard[i] = g.queryFacets(filters)
	}
	return merger.Merge(perShard, strings.Compare)
}

func (g *generation) queryFacets(filters catalog.Filters) idSet {
	perFacet := make([]idSet, 0, len(filters))
	for facet, values := range filters {
		postings, known := g.facets[facet]
		if !known {
			return nil
		}
		lists := make([]idSet, 0, len(values))
		for _, v := range values {
			if ids, _ := postings.get(v); len(ids) > 0 {
				lists = append(lists, ids)
			}
		}
		if len(lists) == 0 {
			return nil
		}
		perFacet = append(perFacet, union(lists...))
	}
	return intersect(perFacet)
}

// QueryText ranks books by the summed frequency of text's distinct
// normalized terms, ties broken by ID ascending. Text without any terms
// matches every book with score zero in ID order.
//
// The returned sequence does no work until first iterated, yields every
// match, and may be iterated again from the start.
func (s *Snapshot) QueryText(text string) iter.Seq[Hit] {
	terms := tokenizer.Terms(text)
	var (
		once   sync.Once
		ranked []Hit
	)
	return func(yield func(Hit) bool) {
		once.Do(func() { ranked = s.rankText(terms) })
		for _, h := range ranked {
			if !yield(h) {
				return
			}
		}
	}
}

// HasTerms reports whether text normalizes to at least one term, i.e.
// whether QueryText would filter anything.
func HasTerms(text string) bool {
	return len(tokenizer.Terms(text)) > 0
}

func (s *Snapshot) rankText(terms []string) []Hit {
	if len(terms) == 0 {
		ids := s.IDs()
		hits := make([]Hit, len(ids))
		for i, id := range ids {
			hits[i] = Hit{BookID: id}
		}
		return hits
	}
	perShard := make([][]Hit, len(s.gens))
	for i, g := range s.gens {
		scores := make(map[string]int)
		for _, term := range terms {
			postings, _ := g.text.get(term)
			for _, p := range postings {
				scores[p.BookID] += p.Frequency
			}
		}
		hits := make([]Hit, 0, len(scores))
		for id, score := range scores {
			hits = append(hits, Hit{BookID: id, Score: score})
		}
		slices.SortFunc(hits, compareHits)
		perShard[i] = hits
	}
	return merger.Merge(perShard, compareHits)
}

func compareHits(a, b Hit) int {
	if a.Score != b.Score {
		return b.Score - a.Score
	}
	return strings.Compare(a.BookID, b.BookID)
}

// ContainingAny returns the IDs of books whose text holds at least one of
// the already-normalized terms.
func (s *Snapshot) ContainingAny(terms []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range s.gens {
		for _, term := range terms {
			postings, _ := g.text.get(term)
			for _, p := range postings {
				out[p.BookID] = struct{}{}
			}
		}
	}
	return out
}
