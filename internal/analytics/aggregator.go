package analytics

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/kafka"
)

// AggregatedStats is the JSON view served by Handler.Stats.
type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	SortUsage         map[string]int64 `json:"sort_usage"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`

	ChatTurns        int64            `json:"chat_turns"`
	ChatOutcomes     map[string]int64 `json:"chat_outcomes"`
	RejectionReasons []QueryCount     `json:"rejection_reasons"`
	AvgChatLatencyMs float64          `json:"avg_chat_latency_ms"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// maxLatencies bounds the latency sample; older samples are overwritten.
const maxLatencies = 10000

// Aggregator folds analytics envelopes into running totals. It is safe for
// concurrent use.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	zeroResults       int64
	latencies         []int64
	nextLatency       int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	sortUsage         map[string]int64
	chatTurns         int64
	chatOutcomes      map[string]int64
	rejections        map[string]int64
	chatLatencySum    int64
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		sortUsage:         make(map[string]int64),
		chatOutcomes:      make(map[string]int64),
		rejections:        make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes analytics envelopes from Kafka. Undecodable messages
// are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[Envelope](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(env)
		return nil
	}
}

// Record applies one envelope.
func (a *Aggregator) Record(env Envelope) {
	switch {
	case env.Search != nil:
		a.recordSearch(*env.Search)
	case env.Chat != nil:
		a.recordChat(*env.Chat)
	default:
		a.logger.Warn("analytics envelope without payload", "type", env.Type)
	}
}

func (a *Aggregator) recordSearch(e SearchEvent) {
	query := strings.TrimSpace(strings.ToLower(e.Query))
	if query == "" && len(e.Facets) > 0 {
		query = strings.Join(e.Facets, " ")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	a.addLatency(e.LatencyMs)
	a.sortUsage[e.Sort]++
	if query != "" {
		a.queryCounts[query]++
	}
	if e.TotalCount == 0 || e.Type == EventZeroResult {
		a.zeroResults++
		if query != "" {
			a.zeroResultQueries[query]++
		}
	}
}

func (a *Aggregator) recordChat(e ChatEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatTurns++
	a.chatOutcomes[e.State]++
	a.chatLatencySum += e.LatencyMs
	if e.Reason != "" {
		a.rejections[e.Reason]++
	}
}

func (a *Aggregator) addLatency(ms int64) {
	if len(a.latencies) < maxLatencies {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.nextLatency] = ms
	a.nextLatency = (a.nextLatency + 1) % maxLatencies
}

// DefaultTop is how many entries each ranked list in Stats holds.
const DefaultTop = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(DefaultTop)
}

// StatsTop is Stats with top entries in each ranked list.
func (a *Aggregator) StatsTop(top int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:     a.totalSearches,
		ZeroResultCount:   a.zeroResults,
		TopQueries:        topN(a.queryCounts, top),
		ZeroResultQueries: topN(a.zeroResultQueries, top),
		SortUsage:         copyCounts(a.sortUsage),
		ChatTurns:         a.chatTurns,
		ChatOutcomes:      copyCounts(a.chatOutcomes),
		RejectionReasons:  topN(a.rejections, top),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if a.chatTurns > 0 {
		stats.AvgChatLatencyMs = float64(a.chatLatencySum) / float64(a.chatTurns)
	}
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n highest counts, ties broken by key.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(x, y QueryCount) int {
		if x.Count != y.Count {
			if x.Count > y.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Query, y.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
