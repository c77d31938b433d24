// Package api exposes the planner and the chat pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/planner"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	json "github.com/goccy/go-json"
)

// Searcher is satisfied by *planner.Planner.
type Searcher interface {
	Search(ctx context.Context, req planner.Request) (*planner.Result, error)
	MostBorrowed(ctx context.Context, n int) ([]catalog.Book, error)
	Trending(ctx context.Context, n int) ([]catalog.Book, error)
	WhatsNew(ctx context.Context, n int) ([]catalog.Book, error)
}

// Asker is satisfied by *chat.Pipeline.
type Asker interface {
	Ask(ctx context.Context, utterance, conversationID string) (*chat.Answer, error)
}

// BookLookup is satisfied by *index.Index.
type BookLookup interface {
	Get(bookID string) (catalog.Book, bool)
}

// CacheAdmin is satisfied by *cache.QueryCache.
type CacheAdmin interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) error
}

// EventTracker is satisfied by *analytics.Collector.
type EventTracker interface {
	Track(event any)
}

// Options wires optional collaborators. A nil Chat disables /chat; a nil
// Cache reports caching as disabled.
type Options struct {
	Chat         Asker
	Cache        CacheAdmin
	Events       EventTracker
	DefaultLimit int
}

type Handler struct {
	search       Searcher
	books        BookLookup
	chat         Asker
	cache        CacheAdmin
	events       EventTracker
	defaultLimit int
	logger       *slog.Logger
}

func New(search Searcher, books BookLookup, opts Options) *Handler {
	if opts.DefaultLimit < 1 {
		opts.DefaultLimit = 20
	}
	return &Handler{
		search:       search,
		books:        books,
		chat:         opts.Chat,
		cache:        opts.Cache,
		events:       opts.Events,
		defaultLimit: opts.DefaultLimit,
		logger:       logger.WithComponent("api-handler"),
	}
}

// maxChatBody bounds POST /chat request bodies.
const maxChatBody = 16 << 10

// Search serves GET /api/v1/books/search. q accepts the parser syntax;
// genre, author, year and availability parameters add facet values and may
// repeat or hold comma-separated lists.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	q := r.URL.Query()

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), h.defaultLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	plan := parser.Parse(q.Get("q"))
	for _, facet := range catalog.Facets {
		for _, raw := range q[string(facet)] {
			for _, v := range strings.Split(raw, ",") {
				if v = strings.TrimSpace(v); v != "" {
					plan.Filters[facet] = append(plan.Filters[facet], v)
				}
			}
		}
	}

	res, err := h.search.Search(ctx, planner.Request{
		Filters:      plan.Filters,
		Text:         plan.Text,
		ExcludeTerms: plan.ExcludeTerms,
		Sort:         ranker.Sort(q.Get("sort")),
		Offset:       offset,
		Size:         limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	if h.events != nil {
		eventType := analytics.EventSearch
		if res.TotalCount == 0 {
			eventType = analytics.EventZeroResult
		}
		h.events.Track(analytics.SearchEvent{
			Type:       eventType,
			Query:      q.Get("q"),
			Facets:     facetLabels(plan.Filters),
			Sort:       string(res.Sort),
			TotalCount: res.TotalCount,
			Returned:   len(res.Books),
			LatencyMs:  latencyMs,
			Timestamp:  time.Now().UTC(),
			RequestID:  logger.RequestID(ctx),
		})
	}
	logger.FromContext(ctx).Info("search completed",
		"query", q.Get("q"),
		"sort", res.Sort,
		"total_count", res.TotalCount,
		"returned", len(res.Books),
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, res)
}

type listResponse struct {
	Books []catalog.Book `json:"books"`
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.search.MostBorrowed)
}

func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.search.Trending)
}

func (h *Handler) New(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.search.WhatsNew)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fn func(context.Context, int) ([]catalog.Book, error)) {
	limit, err := intParam(r.URL.Query().Get("limit"), h.defaultLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	books, err := fn(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if books == nil {
		books = []catalog.Book{}
	}
	h.writeJSON(w, http.StatusOK, listResponse{Books: books})
}

// Book serves GET /api/v1/books/{id}.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	book, ok := h.books.Get(id)
	if !ok {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrBookNotFound, http.StatusNotFound, "book %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, book)
}

type chatRequest struct {
	Utterance      string `json:"utterance"`
	ConversationID string `json:"conversation_id"`
}

// Chat serves POST /api/v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrRetrievalUnavailable, http.StatusServiceUnavailable, "chat is disabled"))
		return
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
		return
	}
	ans, err := h.chat.Ask(r.Context(), req.Utterance, req.ConversationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ans)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusConflict, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, fmt.Errorf("invalidating cache: %w", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidPageParameters, http.StatusBadRequest, "%q is not an integer", raw)
	}
	return n, nil
}

func facetLabels(f catalog.Filters) []string {
	var out []string
	for _, facet := range catalog.Facets {
		for _, v := range f[facet] {
			out = append(out, string(facet)+":"+v)
		}
	}
	return out
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	retryable := apperrors.IsTransient(err)
	if retryable && status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	h.writeJSON(w, status, errorBody{
		Error:     apperrors.Kind(err),
		Message:   apperrors.Message(err),
		Retryable: retryable,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
