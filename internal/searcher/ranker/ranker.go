package ranker

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
)

// Sort selects the result ordering of a search.
type Sort string

const (
	SortRelevance          Sort = "relevance"
	SortPopularityAllTime  Sort = "popularity_all_time"
	SortPopularityTrending Sort = "popularity_trending"
	SortRecency            Sort = "recency"
)

var sorts = []Sort{SortRelevance, SortPopularityAllTime, SortPopularityTrending, SortRecency}

// ParseSort resolves a sort key. The empty string means relevance.
func ParseSort(s string) (Sort, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortRelevance, nil
	}
	for _, known := range sorts {
		if Sort(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown sort %q", s)
}

// IsPopularity reports whether s orders by borrow statistics.
func (s Sort) IsPopularity() bool {
	return s == SortPopularityAllTime || s == SortPopularityTrending
}

// Kind maps a popularity sort onto the ranker's kind.
func (s Sort) Kind() popularity.Kind {
	if s == SortPopularityTrending {
		return popularity.Trending
	}
	return popularity.AllTime
}

// ScoredDoc is a candidate with the key it is ordered by.
type ScoredDoc struct {
	BookID  string
	Present bool
	Value   float64
}

// Popularity scores ids against snap. Books the snapshot has never seen
// are not Present and sort after every scored book.
func Popularity(ids []string, snap *popularity.Snapshot, kind popularity.Kind) []ScoredDoc {
	out := make([]ScoredDoc, len(ids))
	for i, id := range ids {
		sc, ok := snap.Score(id)
		out[i] = ScoredDoc{BookID: id, Present: ok, Value: sc.Value(kind)}
	}
	return out
}

// ComparePopularity orders scored books first, by value descending, then
// by ID ascending.
func ComparePopularity(a, b ScoredDoc) int {
	if a.Present != b.Present {
		if a.Present {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Value, a.Value); c != 0 {
		return c
	}
	return strings.Compare(a.BookID, b.BookID)
}

// CompareRecency orders newest publication year first, then most recently
// added, then ID ascending.
func CompareRecency(a, b catalog.Book) int {
	if c := cmp.Compare(b.Year, a.Year); c != 0 {
		return c
	}
	if c := b.AddedAt.Compare(a.AddedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
