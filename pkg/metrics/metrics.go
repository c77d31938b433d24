// Package metrics defines the Prometheus metric collectors used across the
// catalog engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the catalog engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	BooksIndexed       prometheus.Gauge
	IndexGeneration    prometheus.Gauge
	IndexUpsertsTotal  prometheus.Counter
	IndexRemovalsTotal prometheus.Counter
	StoreSyncsTotal    *prometheus.CounterVec
	InvalidRecords     *prometheus.CounterVec

	BorrowEventsTotal    *prometheus.CounterVec
	UnknownBookBorrows   prometheus.Counter
	ChatTurnsTotal       *prometheus.CounterVec
	ChatTurnDuration     *prometheus.HistogramVec
	ChatCandidatesCount  prometheus.Histogram
	CompletionDuration   prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
	KafkaMessagesTotal   *prometheus.CounterVec
	AnalyticsEventsTotal *prometheus.CounterVec
}

// New creates all collectors and registers them on reg. Passing nil uses the
// global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_search_queries_total",
				Help: "Total catalog searches by sort key and outcome (ok, zero_result, error).",
			},
			[]string{"sort", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_search_latency_seconds",
				Help:    "Catalog search latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_search_total_count",
				Help:    "Pre-pagination match count per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		BooksIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_books_indexed",
				Help: "Number of books in the current index generation.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_generation",
				Help: "Monotonic index generation counter.",
			},
		),
		IndexUpsertsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_index_upserts_total",
				Help: "Total book upserts applied to the index.",
			},
		),
		IndexRemovalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_index_removals_total",
				Help: "Total book removals applied to the index.",
			},
		),
		StoreSyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_store_syncs_total",
				Help: "Record store sync runs by status.",
			},
			[]string{"status"},
		),
		InvalidRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_invalid_records_total",
				Help: "Store records skipped by validation, by record type.",
			},
			[]string{"record"},
		),
		BorrowEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_borrow_events_total",
				Help: "Borrow events ingested by kind.",
			},
			[]string{"kind"},
		),
		UnknownBookBorrows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_unknown_book_borrows_total",
				Help: "Borrow events dropped because the book is not indexed.",
			},
		),
		ChatTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_chat_turns_total",
				Help: "Chat turns by final state (delivered, rejected, failed).",
			},
			[]string{"state"},
		),
		ChatTurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_chat_stage_duration_seconds",
				Help:    "Chat turn stage latency in seconds.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		ChatCandidatesCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_chat_candidates",
				Help:    "Candidate set size per chat turn.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
			},
		),
		CompletionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_completion_duration_seconds",
				Help:    "Completion request latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		KafkaMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_kafka_messages_total",
				Help: "Kafka messages consumed by topic and status.",
			},
			[]string{"topic", "status"},
		),
		AnalyticsEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_analytics_events_total",
				Help: "Analytics events by type and status.",
			},
			[]string{"type", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BooksIndexed,
		m.IndexGeneration,
		m.IndexUpsertsTotal,
		m.IndexRemovalsTotal,
		m.StoreSyncsTotal,
		m.InvalidRecords,
		m.BorrowEventsTotal,
		m.UnknownBookBorrows,
		m.ChatTurnsTotal,
		m.ChatTurnDuration,
		m.ChatCandidatesCount,
		m.CompletionDuration,
		m.CircuitBreakerState,
		m.KafkaMessagesTotal,
		m.AnalyticsEventsTotal,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for tests and
// for components wired without a metrics server.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
