package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/planner"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/middleware"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hobbit = catalog.Book{ID: "b1", Title: "The Hobbit", Authors: []string{"J.R.R. Tolkien"}, Genre: "fantasy", Year: 1937, Available: 2}

type fakeSearcher struct {
	last planner.Request
	res  *planner.Result
	err  error
	n    int
}

func (f *fakeSearcher) Search(_ context.Context, req planner.Request) (*planner.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeSearcher) MostBorrowed(_ context.Context, n int) ([]catalog.Book, error) {
	f.n = n
	return []catalog.Book{hobbit}, nil
}

func (f *fakeSearcher) Trending(_ context.Context, n int) ([]catalog.Book, error) {
	f.n = n
	return nil, nil
}

func (f *fakeSearcher) WhatsNew(_ context.Context, n int) ([]catalog.Book, error) {
	f.n = n
	return []catalog.Book{hobbit}, nil
}

type fakeBooks map[string]catalog.Book

func (f fakeBooks) Get(id string) (catalog.Book, bool) {
	b, ok := f[id]
	return b, ok
}

type fakeAsker struct {
	utterance, conversation string
	ans                     *chat.Answer
	err                     error
}

func (f *fakeAsker) Ask(_ context.Context, utterance, conversationID string) (*chat.Answer, error) {
	f.utterance, f.conversation = utterance, conversationID
	return f.ans, f.err
}

type fakeCache struct {
	hits, misses int64
	invalidated  bool
}

func (f *fakeCache) Stats() (int64, int64) { return f.hits, f.misses }

func (f *fakeCache) Invalidate(context.Context) error {
	f.invalidated = true
	return nil
}

type trackedEvents []any

func (t *trackedEvents) Track(e any) { *t = append(*t, e) }

type apiFixture struct {
	search *fakeSearcher
	asker  *fakeAsker
	cache  *fakeCache
	events *trackedEvents
	router http.Handler
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		search: &fakeSearcher{res: &planner.Result{Books: []catalog.Book{hobbit}, TotalCount: 1, Sort: ranker.SortRelevance, Size: 20}},
		asker:  &fakeAsker{},
		cache:  &fakeCache{hits: 3, misses: 1},
		events: &trackedEvents{},
	}
	h := New(f.search, fakeBooks{hobbit.ID: hobbit}, Options{Chat: f.asker, Cache: f.cache, Events: f.events})
	f.router = NewRouter(h, RouterConfig{Health: health.NewChecker(), CORS: middleware.DefaultCORSConfig()})
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSearchMergesQueryAndFacetParams(t *testing.T) {
	f := newAPIFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/books/search?q=genre:fantasy+dragons+-ghosts&author=Tolkien,Le+Guin&availability=available&sort=popularity_all_time&offset=5&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	req := f.search.last
	assert.Equal(t, []string{"fantasy"}, req.Filters[catalog.FacetGenre])
	assert.Equal(t, []string{"Tolkien", "Le Guin"}, req.Filters[catalog.FacetAuthor])
	assert.Equal(t, []string{"available"}, req.Filters[catalog.FacetAvailability])
	assert.Equal(t, "dragons", req.Text)
	assert.Equal(t, []string{"ghost"}, req.ExcludeTerms)
	assert.Equal(t, ranker.Sort("popularity_all_time"), req.Sort)
	assert.Equal(t, 5, req.Offset)
	assert.Equal(t, 10, req.Size)

	res := decodeBody[planner.Result](t, rec)
	assert.Equal(t, 1, res.TotalCount)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "b1", res.Books[0].ID)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	require.Len(t, *f.events, 1)
	ev := (*f.events)[0].(analytics.SearchEvent)
	assert.Equal(t, analytics.EventSearch, ev.Type)
	assert.Contains(t, ev.Facets, "genre:fantasy")
}

func TestSearchDefaultsLimit(t *testing.T) {
	f := newAPIFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/books/search", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.search.last.Size)
	assert.Equal(t, 0, f.search.last.Offset)
}

func TestSearchZeroResultEvent(t *testing.T) {
	f := newAPIFixture()
	f.search.res = &planner.Result{Books: []catalog.Book{}, Sort: ranker.SortRelevance}
	rec := f.do(t, http.MethodGet, "/api/v1/books/search?q=zzz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *f.events, 1)
	assert.Equal(t, analytics.EventZeroResult, (*f.events)[0].(analytics.SearchEvent).Type)
}

func TestSearchRejectsNonNumericPaging(t *testing.T) {
	f := newAPIFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/books/search?offset=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "invalid_page_parameters", body.Error)
	assert.False(t, body.Retryable)
}

func TestSearchPropagatesPlannerErrors(t *testing.T) {
	f := newAPIFixture()
	f.search.err = apperrors.Newf(apperrors.ErrInvalidPageParameters, http.StatusBadRequest, "size %d exceeds maximum %d", 500, 100)
	rec := f.do(t, http.MethodGet, "/api/v1/books/search?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "size 500 exceeds maximum 100", decodeBody[errorBody](t, rec).Message)

	f.search.err = apperrors.Transient(apperrors.ErrRetrievalUnavailable, http.StatusServiceUnavailable, "index not ready")
	rec = f.do(t, http.MethodGet, "/api/v1/books/search", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "retrieval_unavailable", body.Error)
	assert.True(t, body.Retryable)
}

func TestSurfaceEndpoints(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/api/v1/books/popular?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.search.n)
	assert.Len(t, decodeBody[listResponse](t, rec).Books, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/books/trending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.search.n)
	assert.JSONEq(t, `{"books":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/books/new?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.search.n)
}

func TestBookLookup(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/api/v1/books/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The Hobbit", decodeBody[catalog.Book](t, rec).Title)

	rec = f.do(t, http.MethodGet, "/api/v1/books/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[errorBody](t, rec).Error)
}

func TestChat(t *testing.T) {
	f := newAPIFixture()
	f.asker.ans = &chat.Answer{TurnID: "t1", Text: "Try " + chat.Marker("b1"), Citations: []string{"b1"}, State: chat.StateDelivered}

	rec := f.do(t, http.MethodPost, "/api/v1/chat", `{"utterance":"fantasy please","conversation_id":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fantasy please", f.asker.utterance)
	assert.Equal(t, "c1", f.asker.conversation)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "t1", body["turn_id"])
	assert.Equal(t, "delivered", body["state"])
	assert.Equal(t, []any{"b1"}, body["citations"])
	assert.Equal(t, false, body["fallback"])
}

func TestChatErrors(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodPost, "/api/v1/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeBody[errorBody](t, rec).Error)

	f.asker.err = apperrors.Transient(apperrors.ErrRateLimited, http.StatusTooManyRequests, "too many chat turns")
	rec = f.do(t, http.MethodPost, "/api/v1/chat", `{"utterance":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "rate_limited", body.Error)
	assert.True(t, body.Retryable)

	f.asker.err = apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "an authenticated identity is required")
	rec = f.do(t, http.MethodPost, "/api/v1/chat", `{"utterance":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatDisabled(t *testing.T) {
	h := New(&fakeSearcher{}, fakeBooks{}, Options{})
	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "75.0%", stats["hit_rate"])
	assert.EqualValues(t, 4, stats["total"])

	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.cache.invalidated)
}

func TestHealthAndMethodRouting(t *testing.T) {
	f := newAPIFixture()
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/v1/chat", "").Code)
}
