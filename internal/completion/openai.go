package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/goccy/go-json"
)

const systemPrompt = `You are a library catalog assistant. Answer only from the catalog records below.
Cite every book you mention with its marker exactly as shown, e.g. [book:ID].
Never mention a book that is not listed. If none of the records fit, say so.

Catalog records:
`

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint. It never
// retries; callers decide what a failure means.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options configures an HTTPClient directly.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewHTTPClient builds a client from config, reading the API key from the
// environment variable named by cfg.APIKeyEnv.
func NewHTTPClient(cfg config.CompletionConfig, m *metrics.Metrics) (*HTTPClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing completion API key in env %s", cfg.APIKeyEnv)
	}
	return New(Options{
		BaseURL: cfg.BaseURL,
		APIKey:  key,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Metrics: m,
	}), nil
}

func New(opts Options) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		timeout: opts.Timeout,
		client:  &http.Client{},
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "completion-client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends one chat completion. The effective deadline is the
// earliest of ctx, req.Timeout and the client's configured timeout.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	timeout := c.timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
		}
	}()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt + req.Context},
			{Role: "user", Content: req.Utterance},
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", &Error{Kind: KindMalformed, Err: fmt.Errorf("encoding request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, Err: err}
		}
		return "", &Error{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, Err: err}
		}
		return "", &Error{Kind: KindUnavailable, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &Error{Kind: KindUnavailable, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	case resp.StatusCode >= 300:
		c.logger.Warn("completion rejected", "status", resp.StatusCode, "body", truncate(string(payload), 200))
		return "", &Error{Kind: KindRejected, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &Error{Kind: KindMalformed, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindMalformed, Status: resp.StatusCode, Err: errors.New("no completion returned")}
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
