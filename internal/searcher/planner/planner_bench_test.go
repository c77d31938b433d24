package planner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/ranker"
)

func benchPlanner(b *testing.B, n int) *Planner {
	b.Helper()
	idx := index.New(8)
	if err := idx.UpsertBatch(manyBooks(n)); err != nil {
		b.Fatal(err)
	}
	idx.MarkReady()
	pop := popularity.New(popularity.Options{Shards: 8, Exists: idx.Contains})
	for i := 0; i < n*3; i++ {
		pop.Ingest(catalog.BorrowEvent{
			BookID: fmt.Sprintf("bk%03d", (i*7)%n),
			At:     now.Add(-time.Duration(i) * time.Minute),
			Kind:   catalog.EventBorrow,
		})
	}
	return New(idx, pop, Options{MaxPageSize: 100, Now: func() time.Time { return now }})
}

// BenchmarkQueryParse measures parser latency for queries of varying shape.
func BenchmarkQueryParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "haunted archive"},
		{"facets", "genre:horror year:1960 is:available"},
		{"quoted", `author:"Ursula K. Le Guin" dragons`},
		{"with_not", "archive NOT volume -haunted"},
		{"long", "genre:mystery author:christie poison village detective train murder orient express"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = parser.Parse(q.query)
			}
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	p := benchPlanner(b, 5000)
	ctx := context.Background()
	requests := map[string]Request{
		"text":     {Text: "haunted archive", Size: 20},
		"facet":    {Filters: catalog.Filters{catalog.FacetGenre: {"horror"}}, Size: 20},
		"popular":  {Sort: ranker.SortPopularityAllTime, Size: 20},
		"trending": {Filters: catalog.Filters{catalog.FacetAvailability: {"available"}}, Sort: ranker.SortPopularityTrending, Size: 20},
		"recency":  {Sort: ranker.SortRecency, Offset: 100, Size: 20},
	}
	for name, req := range requests {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := p.Search(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	p := benchPlanner(b, 5000)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := p.SearchQuery(ctx, "genre:mystery haunted", ranker.SortPopularityTrending, 0, 10); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
