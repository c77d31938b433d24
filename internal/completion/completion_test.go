package completion

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/resilience"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientSendsGroundedPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Try [book:b1]."}}]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", APIKey: "secret", Model: "test-model"})
	out, err := c.Complete(context.Background(), Request{
		Context:   "[book:b1] A Wizard of Earthsea",
		Utterance: "recommend a fantasy book",
		MaxTokens: 128,
	})
	require.NoError(t, err)
	assert.Equal(t, "Try [book:b1].", out)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 128, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "[book:b1] A Wizard of Earthsea")
	assert.Equal(t, "recommend a fantasy book", got.Messages[1].Content)
}

func TestHTTPClientClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"server error", http.StatusBadGateway, "", KindUnavailable},
		{"throttled", http.StatusTooManyRequests, "", KindUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":"context length"}`, KindRejected},
		{"not json", http.StatusOK, "<html>", KindMalformed},
		{"no choices", http.StatusOK, `{"choices":[]}`, KindMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(Options{BaseURL: srv.URL}).Complete(context.Background(), Request{Utterance: "hi"})
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}).Complete(context.Background(), Request{Utterance: "hi", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestBreakerOpensOnUnavailableOnly(t *testing.T) {
	m := metrics.NewNop()
	var failKind Kind
	calls := 0
	inner := CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "", &Error{Kind: failKind, Err: errors.New("boom")}
	})
	b := NewBreaker("completion", inner, resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}, m)

	failKind = KindRejected
	for range 3 {
		_, err := b.Complete(context.Background(), Request{})
		assert.Equal(t, KindRejected, KindOf(err))
	}
	assert.Equal(t, resilience.StateClosed, b.State())

	failKind = KindUnavailable
	for range 2 {
		_, _ = b.Complete(context.Background(), Request{})
	}
	assert.Equal(t, resilience.StateOpen, b.State())
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("completion")))

	before := calls
	_, err := b.Complete(context.Background(), Request{})
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, calls)
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindRejected, Status: 400, Err: errors.New("bad")}
	assert.True(t, strings.Contains(err.Error(), "rejected"))
	assert.Equal(t, Kind(0), KindOf(errors.New("other")))
}
