// Package planner answers structured catalog searches: facet filtering,
// free-text matching, ordering and paging, all evaluated against index and
// popularity snapshots pinned when the call starts.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/google/uuid"
)

// DefaultMaxPageSize bounds Request.Size when Options leaves it unset.
const DefaultMaxPageSize = 100

// Request is one search. Filters are ANDed across facets and ORed within a
// facet. ExcludeTerms are normalized terms; books containing any of them are
// dropped.
type Request struct {
	Filters      catalog.Filters
	Text         string
	ExcludeTerms []string
	Sort         ranker.Sort
	Offset       int
	Size         int
}

// Result is one page of books. TotalCount is the number of matches before
// paging.
type Result struct {
	Books      []catalog.Book `json:"books"`
	TotalCount int            `json:"total_count"`
	Sort       ranker.Sort    `json:"sort"`
	Offset     int            `json:"offset"`
	Size       int            `json:"size"`
}

// Options configures a Planner.
type Options struct {
	MaxPageSize int
	// Cache is optional. Entries are keyed by request and snapshot versions.
	Cache   *cache.QueryCache[Result]
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Planner is safe for concurrent use.
type Planner struct {
	index   *index.Index
	pop     *popularity.Ranker
	maxPage int
	cache   *cache.QueryCache[Result]
	metrics *metrics.Metrics
	now     func() time.Time
	// epoch scopes cache keys to this process: snapshot versions restart
	// from zero whenever the index is rebuilt from scratch.
	epoch  string
	logger *slog.Logger
}

func New(idx *index.Index, pop *popularity.Ranker, opts Options) *Planner {
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Planner{
		index:   idx,
		pop:     pop,
		maxPage: opts.MaxPageSize,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		now:     opts.Now,
		epoch:   uuid.NewString(),
		logger:  slog.Default().With("component", "query-planner"),
	}
}

// MaxPageSize returns the largest accepted Request.Size.
func (p *Planner) MaxPageSize() int {
	return p.maxPage
}

// Search runs req. Page parameters are validated before anything else: a
// negative Offset or a Size outside [1, MaxPageSize] fails with
// ErrInvalidPageParameters. Before the index has finished its initial load
// Search fails with a transient ErrRetrievalUnavailable.
func (p *Planner) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.Offset < 0 || req.Size < 1 || req.Size > p.maxPage {
		p.count(req.Sort, "invalid")
		return nil, apperrors.Newf(apperrors.ErrInvalidPageParameters, http.StatusBadRequest,
			"offset must be >= 0 and size in [1, %d], got offset=%d size=%d", p.maxPage, req.Offset, req.Size)
	}
	sort, err := ranker.ParseSort(string(req.Sort))
	if err != nil {
		p.count(req.Sort, "invalid")
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	}
	req.Sort = sort
	if !p.index.Ready() {
		p.count(sort, "unavailable")
		return nil, apperrors.Transient(apperrors.ErrRetrievalUnavailable, http.StatusServiceUnavailable,
			"catalog index is still loading")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	idxSnap := p.index.Snapshot()
	var popSnap *popularity.Snapshot
	var popVersion uint64
	if sort.IsPopularity() {
		popSnap = p.pop.Snapshot(p.now())
		popVersion = popSnap.Version()
	}

	var (
		result      Result
		cacheStatus = "disabled"
	)
	if p.cache != nil {
		var hit bool
		result, hit, err = p.cache.GetOrCompute(ctx, cacheKey(p.epoch, req, idxSnap.Version(), popVersion), func() (Result, error) {
			return p.execute(ctx, req, idxSnap, popSnap)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = p.execute(ctx, req, idxSnap, popSnap)
	}
	if err != nil {
		p.count(sort, "error")
		return nil, err
	}

	outcome := "ok"
	if result.TotalCount == 0 {
		outcome = "empty"
	}
	p.count(sort, outcome)
	if p.metrics != nil {
		p.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
		p.metrics.SearchResultsCount.Observe(float64(result.TotalCount))
	}
	logger.FromContext(ctx).Debug("search planned",
		"sort", sort,
		"facets", len(req.Filters),
		"has_text", req.Text != "",
		"total_count", result.TotalCount,
		"returned", len(result.Books),
		"cache", cacheStatus,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

// SearchQuery parses a query string (see parser.Parse) and searches it.
func (p *Planner) SearchQuery(ctx context.Context, query string, sort ranker.Sort, offset, size int) (*Result, error) {
	plan := parser.Parse(query)
	return p.Search(ctx, Request{
		Filters:      plan.Filters,
		Text:         plan.Text,
		ExcludeTerms: plan.ExcludeTerms,
		Sort:         sort,
		Offset:       offset,
		Size:         size,
	})
}

// MostBorrowed returns the n books with the most borrows of all time.
func (p *Planner) MostBorrowed(ctx context.Context, n int) ([]catalog.Book, error) {
	return p.surface(ctx, ranker.SortPopularityAllTime, n)
}

// Trending returns the n books with the highest decayed borrow score.
func (p *Planner) Trending(ctx context.Context, n int) ([]catalog.Book, error) {
	return p.surface(ctx, ranker.SortPopularityTrending, n)
}

// WhatsNew returns the n most recent books.
func (p *Planner) WhatsNew(ctx context.Context, n int) ([]catalog.Book, error) {
	return p.surface(ctx, ranker.SortRecency, n)
}

func (p *Planner) surface(ctx context.Context, sort ranker.Sort, n int) ([]catalog.Book, error) {
	res, err := p.Search(ctx, Request{Sort: sort, Size: n})
	if err != nil {
		return nil, err
	}
	return res.Books, nil
}

func (p *Planner) execute(ctx context.Context, req Request, idx *index.Snapshot, pop *popularity.Snapshot) (Result, error) {
	ids := idx.QueryFacets(req.Filters)

	if index.HasTerms(req.Text) {
		allowed := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
		ranked := make([]string, 0, len(ids))
		for hit := range idx.QueryText(req.Text) {
			if _, ok := allowed[hit.BookID]; ok {
				ranked = append(ranked, hit.BookID)
			}
		}
		ids = ranked
	}

	if len(req.ExcludeTerms) > 0 && len(ids) > 0 {
		excluded := idx.ContainingAny(req.ExcludeTerms)
		ids = slices.DeleteFunc(ids, func(id string) bool {
			_, drop := excluded[id]
			return drop
		})
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("search: %w", err)
	}

	total := len(ids)
	result := Result{
		Books:      []catalog.Book{},
		TotalCount: total,
		Sort:       req.Sort,
		Offset:     req.Offset,
		Size:       req.Size,
	}
	if req.Offset >= total {
		return result, nil
	}
	end := min(req.Offset+req.Size, total)

	switch {
	case req.Sort.IsPopularity():
		top := merger.TopK(ranker.Popularity(ids, pop, req.Sort.Kind()), end, ranker.ComparePopularity)
		page := make([]string, 0, end-req.Offset)
		for _, d := range top[req.Offset:] {
			page = append(page, d.BookID)
		}
		result.Books = idx.Books(page)
	case req.Sort == ranker.SortRecency:
		top := merger.TopK(idx.Books(ids), end, ranker.CompareRecency)
		result.Books = top[req.Offset:]
	default:
		result.Books = idx.Books(ids[req.Offset:end])
	}
	return result, nil
}

func (p *Planner) count(sort ranker.Sort, outcome string) {
	if p.metrics != nil {
		p.metrics.SearchQueriesTotal.WithLabelValues(string(sort), outcome).Inc()
	}
}

// cacheKey canonicalizes req so equivalent requests share an entry.
func cacheKey(epoch string, req Request, indexVersion, popVersion uint64) string {
	filters := req.Filters.Normalized()
	facets := make([]string, 0, len(filters))
	for facet, values := range filters {
		vs := slices.Clone(values)
		slices.Sort(vs)
		facets = append(facets, string(facet)+"="+strings.Join(vs, ","))
	}
	slices.Sort(facets)
	excludes := slices.Clone(req.ExcludeTerms)
	slices.Sort(excludes)
	return cache.Key(
		epoch,
		strings.Join(facets, ";"),
		strings.Join(strings.Fields(strings.ToLower(req.Text)), " "),
		strings.Join(excludes, ","),
		req.Sort,
		req.Offset,
		req.Size,
		indexVersion,
		popVersion,
	)
}
