package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/completion"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/planner"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req completion.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type reviewRecorder struct {
	mu      sync.Mutex
	reviews []Review
}

func (r *reviewRecorder) Record(_ context.Context, rv Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews = append(r.reviews, rv)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func (e *eventRecorder) Track(event any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventRecorder) last() analytics.ChatEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1].(analytics.ChatEvent)
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

var catalogBooks = []catalog.Book{
	{ID: "A", Title: "Foundation", Authors: []string{"Isaac Asimov"}, Genre: catalog.GenreSciFi, Year: 1951, Available: 1},
	{ID: "B", Title: "The Hobbit", Authors: []string{"J. R. R. Tolkien"}, Genre: catalog.GenreFantasy, Year: 1937, Available: 3},
	{ID: "C", Title: "Gone Girl", Authors: []string{"Gillian Flynn"}, Genre: catalog.GenreMystery, Year: 2012, Available: 0},
}

type chatFixture struct {
	pipeline  *Pipeline
	completer *mockCompleter
	reviews   *reviewRecorder
	events    *eventRecorder
	metrics   *metrics.Metrics
}

func newChatFixture(t *testing.T, mutate func(*Options)) *chatFixture {
	t.Helper()
	idx := index.New(2)
	require.NoError(t, idx.UpsertBatch(catalogBooks))
	idx.MarkReady()
	pop := popularity.New(popularity.Options{Shards: 2, Exists: idx.Contains})

	f := &chatFixture{
		completer: &mockCompleter{},
		reviews:   &reviewRecorder{},
		events:    &eventRecorder{},
		metrics:   metrics.NewNop(),
	}
	opts := Options{
		RequireIdentity: true,
		Titles:          IndexTitles{Index: idx},
		Reviews:         f.reviews,
		Events:          f.events,
		Metrics:         f.metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.pipeline = New(planner.New(idx, pop, planner.Options{}), f.completer, opts)
	return f
}

func signedIn() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{ID: "key:reader"})
}

func contextHas(ids ...string) any {
	return mock.MatchedBy(func(req completion.Request) bool {
		return assert.ObjectsAreEqual(ids, ParseCitations(req.Context))
	})
}

func TestFantasyRecommendationDeliveredWhenCitingCandidate(t *testing.T) {
	f := newChatFixture(t, nil)
	reply := "You might enjoy The Hobbit [book:B], a classic adventure."
	f.completer.On("Complete", mock.Anything, contextHas("B")).Return(reply, nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "conv-1")
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, ans.State)
	assert.Equal(t, reply, ans.Text)
	assert.Equal(t, []string{"B"}, ans.Citations)
	assert.Equal(t, []string{"B"}, ans.Candidates)
	assert.False(t, ans.Fallback)
	assert.Equal(t, "conv-1", ans.ConversationID)
	assert.NotEmpty(t, ans.TurnID)
	assert.Empty(t, f.reviews.reviews)
	assert.Equal(t, "delivered", f.events.last().State)
	f.completer.AssertExpectations(t)
}

func TestFantasyRecommendationRejectedWhenCitingOutsideCandidates(t *testing.T) {
	f := newChatFixture(t, nil)
	raw := "Try Gone Girl [book:C]."
	f.completer.On("Complete", mock.Anything, mock.Anything).Return(raw, nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.NoError(t, err)

	assert.Equal(t, StateRejected, ans.State)
	assert.True(t, ans.Fallback)
	assert.Equal(t, FallbackText, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.NotContains(t, ans.Text, "Gone Girl")

	require.Len(t, f.reviews.reviews, 1)
	rv := f.reviews.reviews[0]
	assert.Equal(t, raw, rv.RawOutput)
	assert.Equal(t, []string{"B"}, rv.Candidates)
	assert.Equal(t, "key:reader", rv.IdentityID)
	assert.Contains(t, rv.Reason, `"C"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues("rejected")))
}

func TestFabricatedCitationsNeverDelivered(t *testing.T) {
	f := newChatFixture(t, nil)
	rng := rand.New(rand.NewSource(7))
	var replies []string
	for range 50 {
		fake := fmt.Sprintf("X%d", rng.Intn(1_000_000))
		switch rng.Intn(3) {
		case 0:
			replies = append(replies, fmt.Sprintf("Read [book:%s].", fake))
		case 1:
			replies = append(replies, fmt.Sprintf("Read [book:B] and [book:%s].", fake))
		default:
			replies = append(replies, fmt.Sprintf("[ book : %s ] is great, so is [book:A]", fake))
		}
	}
	for _, r := range replies {
		f.completer.On("Complete", mock.Anything, mock.Anything).Return(r, nil).Once()
	}

	for _, r := range replies {
		ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
		require.NoError(t, err)
		assert.Equal(t, StateRejected, ans.State, r)
		assert.Empty(t, ans.Citations)
		for _, id := range ParseCitations(ans.Text) {
			assert.Contains(t, ans.Candidates, id)
		}
	}
	assert.Len(t, f.reviews.reviews, len(replies))
}

func TestUncitedTitleMentionRejected(t *testing.T) {
	f := newChatFixture(t, nil)
	f.completer.On("Complete", mock.Anything, mock.Anything).Return("Gone Girl is what you want.", nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, ans.State)
}

func TestUncitedInventedBookRejected(t *testing.T) {
	f := newChatFixture(t, nil)
	reply := `I recommend "The Silent Orchard" by Jane Doe (2019), a gentle fantasy.`
	f.completer.On("Complete", mock.Anything, mock.Anything).Return(reply, nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, ans.State)
	assert.True(t, ans.Fallback)
	assert.Empty(t, ans.Citations)
	assert.NotContains(t, ans.Text, "Silent Orchard")
	require.Len(t, f.reviews.reviews, 1)
	assert.Contains(t, f.reviews.reviews[0].Reason, "uncited book")
}

func TestZeroCandidatesSkipsCompletion(t *testing.T) {
	f := newChatFixture(t, nil)

	ans, err := f.pipeline.Ask(signedIn(), "recommend a poetry book", "")
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, ans.State)
	assert.Equal(t, NoMatchText, ans.Text)
	assert.Empty(t, ans.Citations)
	assert.Empty(t, ans.Candidates)
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	assert.Equal(t, "no_match", f.events.last().State)
}

func TestCandidateSetCapped(t *testing.T) {
	f := newChatFixture(t, func(o *Options) { o.MaxCandidates = 2 })
	f.completer.On("Complete", mock.Anything, mock.MatchedBy(func(req completion.Request) bool {
		return len(ParseCitations(req.Context)) == 2
	})).Return("Nothing fits exactly.", nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend something", "")
	require.NoError(t, err)
	assert.Len(t, ans.Candidates, 2)
	assert.Equal(t, StateDelivered, ans.State)
	f.completer.AssertExpectations(t)
}

func TestRequireCitation(t *testing.T) {
	f := newChatFixture(t, func(o *Options) { o.RequireCitation = true })
	f.completer.On("Complete", mock.Anything, mock.Anything).Return("Nothing fits exactly.", nil).Once()

	ans, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, ans.State)
}

func TestIdentityGate(t *testing.T) {
	f := newChatFixture(t, nil)

	_, err := f.pipeline.Ask(context.Background(), "recommend a fantasy book", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatusCode(err))
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	open := newChatFixture(t, func(o *Options) { o.RequireIdentity = false })
	open.completer.On("Complete", mock.Anything, mock.Anything).Return("See [book:B].", nil).Once()
	ans, err := open.pipeline.Ask(context.Background(), "recommend a fantasy book", "")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, ans.State)
}

func TestRateLimited(t *testing.T) {
	f := newChatFixture(t, func(o *Options) { o.Limiter = denyAll{} })

	_, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.True(t, apperrors.IsTransient(err))
}

func TestChatAllowanceIgnoresHTTPAllowance(t *testing.T) {
	f := newChatFixture(t, func(o *Options) { o.Limiter = ratelimit.New(1) })
	f.completer.On("Complete", mock.Anything, mock.Anything).Return("See [book:B].", nil).Once()
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: "key:busy", RateLimit: 600})

	_, err := f.pipeline.Ask(ctx, "recommend a fantasy book", "")
	require.NoError(t, err)
	_, err = f.pipeline.Ask(ctx, "recommend a fantasy book", "")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	f.completer.AssertNumberOfCalls(t, "Complete", 1)
}

func TestEmptyUtterance(t *testing.T) {
	f := newChatFixture(t, nil)

	_, err := f.pipeline.Ask(signedIn(), "  ?! ", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGenerationFailure(t *testing.T) {
	f := newChatFixture(t, nil)
	f.completer.On("Complete", mock.Anything, mock.Anything).
		Return("", &completion.Error{Kind: completion.KindUnavailable, Status: 503, Err: errors.New("overloaded")}).Once()

	_, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatusCode(err))
	f.completer.AssertNumberOfCalls(t, "Complete", 1)
	assert.Equal(t, "failed", f.events.last().State)
	assert.Equal(t, "generation_failed", f.events.last().Reason)
}

func TestGenerationFailureRetryability(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantRetry  bool
		wantStatus int
	}{
		{"provider outage", &completion.Error{Kind: completion.KindUnavailable, Status: 503, Err: errors.New("overloaded")}, true, http.StatusBadGateway},
		{"provider timeout", &completion.Error{Kind: completion.KindTimeout, Err: errors.New("slow")}, true, http.StatusGatewayTimeout},
		{"request rejected", &completion.Error{Kind: completion.KindRejected, Status: 401, Err: errors.New("bad key")}, false, http.StatusBadGateway},
		{"unusable reply", &completion.Error{Kind: completion.KindMalformed, Err: errors.New("no choices")}, false, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t, nil)
			f.completer.On("Complete", mock.Anything, mock.Anything).Return("", tt.err).Once()

			_, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
			assert.Equal(t, tt.wantRetry, apperrors.IsTransient(err))
			assert.Equal(t, tt.wantStatus, apperrors.HTTPStatusCode(err))
		})
	}
}

type flakySearcher struct {
	failures int
	calls    int
	result   *planner.Result
}

func (s *flakySearcher) Search(context.Context, planner.Request) (*planner.Result, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, apperrors.Transient(apperrors.ErrRetrievalUnavailable, http.StatusServiceUnavailable, "index warming up")
	}
	return s.result, nil
}

func TestRetrievalRetriedOnce(t *testing.T) {
	search := &flakySearcher{failures: 1, result: &planner.Result{Books: catalogBooks[1:2], TotalCount: 1}}
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("See [book:B].", nil).Once()
	p := New(search, c, Options{})

	ans, err := p.Ask(context.Background(), "fantasy", "")
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, ans.State)
	assert.Equal(t, 2, search.calls)
}

func TestRetrievalUnavailable(t *testing.T) {
	search := &flakySearcher{failures: 5}
	c := &mockCompleter{}
	p := New(search, c, Options{})

	_, err := p.Ask(context.Background(), "fantasy", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRetrievalUnavailable)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, 2, search.calls)
	c.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestTurnTimeoutBoundsCompletion(t *testing.T) {
	f := newChatFixture(t, func(o *Options) { o.TurnTimeout = 20 * time.Millisecond })
	f.completer.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded).Once()

	_, err := f.pipeline.Ask(signedIn(), "recommend a fantasy book", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
	assert.True(t, strings.Contains(apperrors.Message(err), "too long"))
}
