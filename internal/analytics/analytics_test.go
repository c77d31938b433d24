package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, e kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{e})
}

func (p *capturePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestCollectorPublishesEnvelopes(t *testing.T) {
	pub := &capturePublisher{}
	m := metrics.NewNop()
	c := NewCollector(pub, 16, m)
	c.Start(context.Background())

	c.Track(SearchEvent{Type: EventSearch, Query: "dragons", TotalCount: 3})
	c.Track(&ChatEvent{Type: EventChatTurn, TurnID: "t1", State: "delivered"})
	c.Track("not an event")
	c.Close()

	require.Equal(t, 2, pub.len())
	assert.Equal(t, "search", pub.events[0].Key)
	env := pub.events[1].Value.(Envelope)
	require.NotNil(t, env.Chat)
	assert.Equal(t, "t1", env.Chat.TurnID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsEventsTotal.WithLabelValues("chat_turn", "published")))
}

func TestCollectorDropsWhenFull(t *testing.T) {
	m := metrics.NewNop()
	c := NewCollector(&capturePublisher{}, 1, m)

	c.Track(SearchEvent{Type: EventSearch})
	c.Track(SearchEvent{Type: EventSearch})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsEventsTotal.WithLabelValues("search", "dropped")))
}

func TestCollectorCountsPublishErrors(t *testing.T) {
	m := metrics.NewNop()
	c := NewCollector(&capturePublisher{err: errors.New("broker down")}, 4, m)
	c.Start(context.Background())
	c.Track(SearchEvent{Type: EventZeroResult})
	c.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsEventsTotal.WithLabelValues("zero_result", "error")))
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg.startTime = start
	agg.now = func() time.Time { return start.Add(2 * time.Minute) }

	agg.Record(Envelope{Type: EventSearch, Search: &SearchEvent{Query: "Dragons", Sort: "relevance", TotalCount: 4, LatencyMs: 10}})
	agg.Record(Envelope{Type: EventSearch, Search: &SearchEvent{Query: "dragons", Sort: "relevance", TotalCount: 4, LatencyMs: 30}})
	agg.Record(Envelope{Type: EventZeroResult, Search: &SearchEvent{Query: "unicorns", Sort: "recency", LatencyMs: 20}})
	agg.Record(Envelope{Type: EventSearch, Search: &SearchEvent{Facets: []string{"genre:poetry"}, Sort: "recency"}})
	agg.Record(Envelope{Type: EventChatTurn, Chat: &ChatEvent{State: "delivered", LatencyMs: 100}})
	agg.Record(Envelope{Type: EventChatTurn, Chat: &ChatEvent{State: "rejected", Reason: "hallucination_rejected", LatencyMs: 300}})
	agg.Record(Envelope{Type: EventChatTurn})

	s := agg.Stats()
	assert.Equal(t, int64(4), s.TotalSearches)
	assert.Equal(t, int64(2), s.ZeroResultCount)
	assert.Equal(t, []QueryCount{{"dragons", 2}, {"genre:poetry", 1}, {"unicorns", 1}}, s.TopQueries)
	assert.Equal(t, []QueryCount{{"genre:poetry", 1}, {"unicorns", 1}}, s.ZeroResultQueries)
	assert.Equal(t, map[string]int64{"relevance": 2, "recency": 2}, s.SortUsage)
	assert.Equal(t, 2.0, s.QueriesPerMinute)
	assert.Equal(t, int64(2), s.ChatTurns)
	assert.Equal(t, map[string]int64{"delivered": 1, "rejected": 1}, s.ChatOutcomes)
	assert.Equal(t, []QueryCount{{"hallucination_rejected", 1}}, s.RejectionReasons)
	assert.Equal(t, 200.0, s.AvgChatLatencyMs)
	assert.Equal(t, 15.0, s.AvgLatencyMs)
}

func TestHandleEventSkipsMalformed(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)

	require.NoError(t, handle(context.Background(), []byte("search"), []byte("{not json")))

	value, err := json.Marshal(Envelope{Type: EventSearch, Search: &SearchEvent{Query: "x", TotalCount: 1}})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), []byte("search"), value))
	assert.Equal(t, int64(1), agg.Stats().TotalSearches)
}

func TestStatsHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Envelope{Type: EventChatTurn, Chat: &ChatEvent{State: "no_match"}})

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ChatOutcomes["no_match"])
}

func TestStatsHandlerSections(t *testing.T) {
	agg := NewAggregator()
	for _, q := range []string{"dune", "dune", "emma", "it"} {
		agg.Record(Envelope{Type: EventSearch, Search: &SearchEvent{Query: q, Sort: "relevance", TotalCount: 1}})
	}
	agg.Record(Envelope{Type: EventChatTurn, Chat: &ChatEvent{State: "delivered", LatencyMs: 40}})
	h := NewHandler(agg)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?section=search&top=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var search map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	assert.EqualValues(t, 4, search["total_searches"])
	assert.Len(t, search["top_queries"], 1)
	assert.NotContains(t, search, "chat_turns")

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?section=chat", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var chat map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.EqualValues(t, 1, chat["chat_turns"])
	assert.NotContains(t, chat, "total_searches")
}

func TestStatsHandlerRejectsBadParams(t *testing.T) {
	h := NewHandler(NewAggregator())
	for _, target := range []string{
		"/api/v1/analytics?top=0",
		"/api/v1/analytics?top=many",
		"/api/v1/analytics?top=101",
		"/api/v1/analytics?section=ingest",
	} {
		rec := httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
