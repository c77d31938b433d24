// Command loadtest drives a weighted mix of catalog traffic against a
// running catalog service and reports latency per endpoint.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 20 -duration 30s -chat-ratio 0.05
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	ChatRatio   float64
}

var searchQueries = []string{
	"dragons",
	"genre:fantasy dragons",
	"genre:mystery is:available",
	`author:"Agatha Christie" poison`,
	"genre:sci-fi year:1965",
	"haunted house -ghost",
	"space opera",
	"detective village",
	"genre:romance regency",
	"history of rome",
}

var utterances = []string{
	"recommend a fantasy book with dragons",
	"what are the most popular mystery novels?",
	"anything new in science fiction?",
	"I want a short horror story that is available",
	"books like the hobbit",
}

// endpointStats holds the outcome of every request to one endpoint.
type endpointStats struct {
	latencies []time.Duration
	codes     map[int]int
	errors    int
}

type Stats struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

func NewStats() *Stats {
	return &Stats{endpoints: make(map[string]*endpointStats)}
}

func (s *Stats) Record(endpoint string, d time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpoint]
	if !ok {
		e = &endpointStats{codes: make(map[int]int)}
		s.endpoints[endpoint] = e
	}
	if err != nil {
		e.errors++
		return
	}
	e.codes[status]++
	e.latencies = append(e.latencies, d)
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the catalog service")
	flag.StringVar(&cfg.APIKey, "api-key", os.Getenv("LC_API_KEY"), "API key sent as a bearer token")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&cfg.RPS, "rps", 0, "overall request rate cap, 0 for unlimited")
	flag.Float64Var(&cfg.ChatRatio, "chat-ratio", 0, "fraction of requests sent to the chat endpoint")
	flag.Parse()

	fmt.Println("=== Catalog Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Chat ratio:  %.2f\n", cfg.ChatRatio)
	fmt.Println()

	stats, err := run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if !printReport(stats, cfg.Duration) {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func run(cfg Config) (*Stats, error) {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
		g.Go(func() error {
			for {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				endpoint, req, err := nextRequest(ctx, cfg, rng)
				if err != nil {
					return err
				}
				start := time.Now()
				resp, err := client.Do(req)
				d := time.Since(start)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					stats.Record(endpoint, d, 0, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.Record(endpoint, d, resp.StatusCode, nil)
			}
		})
	}

	fmt.Print("Running")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()
	err := g.Wait()
	close(done)
	fmt.Println(" done!")
	fmt.Println()
	return stats, err
}

func nextRequest(ctx context.Context, cfg Config, rng *rand.Rand) (string, *http.Request, error) {
	var (
		endpoint string
		method   = http.MethodGet
		target   string
		body     io.Reader
	)
	switch roll := rng.Float64(); {
	case roll < cfg.ChatRatio:
		endpoint, method, target = "chat", http.MethodPost, "/api/v1/chat"
		payload, err := json.Marshal(map[string]string{
			"utterance":       utterances[rng.IntN(len(utterances))],
			"conversation_id": fmt.Sprintf("loadtest-%d", rng.IntN(100)),
		})
		if err != nil {
			return "", nil, err
		}
		body = bytes.NewReader(payload)
	case roll < cfg.ChatRatio+(1-cfg.ChatRatio)*0.7:
		endpoint = "search"
		target = fmt.Sprintf("/api/v1/books/search?q=%s&limit=10&offset=%d",
			url.QueryEscape(searchQueries[rng.IntN(len(searchQueries))]), 10*rng.IntN(3))
	default:
		endpoint = []string{"popular", "trending", "new"}[rng.IntN(3)]
		target = "/api/v1/books/" + endpoint + "?limit=10"
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+target, body)
	if err != nil {
		return "", nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return endpoint, req, nil
}

// printReport reports false when no request completed.
func printReport(stats *Stats, duration time.Duration) bool {
	stats.mu.Lock()
	defer stats.mu.Unlock()

	names := make([]string, 0, len(stats.endpoints))
	for name := range stats.endpoints {
		names = append(names, name)
	}
	slices.Sort(names)

	var total int
	for _, name := range names {
		e := stats.endpoints[name]
		n := len(e.latencies) + e.errors
		total += n

		fmt.Printf("=== %s ===\n", name)
		fmt.Printf("Requests:        %d\n", n)
		fmt.Printf("Transport errs:  %d\n", e.errors)
		fmt.Printf("Requests/sec:    %.2f\n", float64(n)/duration.Seconds())

		codes := make([]int, 0, len(e.codes))
		for code := range e.codes {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			fmt.Printf("  %d: %d\n", code, e.codes[code])
		}

		if len(e.latencies) > 0 {
			lat := slices.Clone(e.latencies)
			slices.Sort(lat)
			var sum time.Duration
			for _, l := range lat {
				sum += l
			}
			fmt.Printf("Min:    %s\n", lat[0])
			fmt.Printf("Avg:    %s\n", sum/time.Duration(len(lat)))
			fmt.Printf("P50:    %s\n", percentile(lat, 50))
			fmt.Printf("P95:    %s\n", percentile(lat, 95))
			fmt.Printf("P99:    %s\n", percentile(lat, 99))
			fmt.Printf("Max:    %s\n", lat[len(lat)-1])
		}
		fmt.Println()
	}
	return total > 0
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
