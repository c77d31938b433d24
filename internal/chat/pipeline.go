// Package chat answers catalog questions with a completion service while
// keeping every answer grounded in retrieved catalog records.
//
// Each turn moves through
//
//	Received → Planned → Retrieved → Generated → Validated → Delivered
//
// and ends Rejected when validation fails. A turn whose retrieval finds no
// books is delivered with NoMatchText and never reaches the completion
// service. Every citation in a delivered answer names a book from that
// turn's candidate set.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/completion"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/searcher/planner"
	apperrors "github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/tracing"
	"github.com/google/uuid"
)

const (
	NoMatchText  = "I couldn't find any matching books in the catalog."
	FallbackText = "I'm not able to answer that reliably from the catalog. Could you rephrase your question, for example by naming a genre or an author?"
)

// Answer is the result of one turn.
type Answer struct {
	TurnID         string   `json:"turn_id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Text           string   `json:"text"`
	Citations      []string `json:"citations"`
	Candidates     []string `json:"candidates"`
	State          State    `json:"state"`
	Fallback       bool     `json:"fallback"`
}

// Searcher is the retrieval dependency; *planner.Planner satisfies it.
type Searcher interface {
	Search(ctx context.Context, req planner.Request) (*planner.Result, error)
}

// Limiter throttles turns per identity at the chat allowance, independent
// of the identity's HTTP allowance; *ratelimit.Limiter satisfies it.
type Limiter interface {
	Allow(key string) bool
}

// EventTracker receives analytics events; *analytics.Collector satisfies it.
type EventTracker interface {
	Track(event any)
}

// Options tunes a Pipeline. Zero values take the defaults noted.
type Options struct {
	MaxCandidates   int           // 8
	MaxQueryTerms   int           // 8
	MaxTokens       int           // 512
	TurnTimeout     time.Duration // 30s
	CompleteTimeout time.Duration // 20s
	// DescriptionChars cuts each candidate's description in the context.
	DescriptionChars int
	RequireIdentity  bool
	RequireCitation  bool
	// TraceTurns logs each turn's span tree at debug level.
	TraceTurns bool

	Extractor TermExtractor
	Identity  auth.Provider
	Titles    TitleMatcher
	Limiter   Limiter
	Reviews   ReviewSink
	Events    EventTracker
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Pipeline is safe for concurrent use; turns share no mutable state.
type Pipeline struct {
	search    Searcher
	completer completion.Completer
	opts      Options
	logger    *slog.Logger
}

func New(search Searcher, completer completion.Completer, opts Options) *Pipeline {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 8
	}
	if opts.MaxQueryTerms <= 0 {
		opts.MaxQueryTerms = 8
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 30 * time.Second
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = 20 * time.Second
	}
	if opts.Extractor == nil {
		opts.Extractor = HeuristicExtractor{}
	}
	if opts.Identity == nil {
		opts.Identity = auth.ContextProvider{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		search:    search,
		completer: completer,
		opts:      opts,
		logger:    slog.Default().With("component", "chat-pipeline"),
	}
}

// turn is the mutable state of one Ask call.
type turn struct {
	answer     Answer
	identity   auth.Identity
	utterance  string
	plan       Plan
	candidates []catalog.Book
	raw        string
	started    time.Time
	logger     *slog.Logger
}

func (t *turn) advance(to State) {
	from := t.answer.State
	if !canTransition(from, to) {
		panic("chat: illegal transition " + from.String() + " -> " + to.String())
	}
	t.answer.State = to
	t.logger.Debug("turn state", "from", from, "to", to)
}

// Ask runs one turn. Errors are *apperrors.AppError values wrapping
// ErrUnauthorized, ErrRateLimited, ErrInvalidInput, ErrRetrievalUnavailable
// or ErrGenerationFailed. A rejected answer is not an error: it is returned
// with State Rejected and the fallback text.
func (p *Pipeline) Ask(ctx context.Context, utterance, conversationID string) (*Answer, error) {
	id, ok := p.opts.Identity.CurrentIdentity(ctx)
	if !ok && p.opts.RequireIdentity {
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "sign in to use the catalog assistant")
	}
	if p.opts.Limiter != nil {
		key := id.ID
		if key == "" {
			key = "anonymous"
		}
		if !p.opts.Limiter.Allow(key) {
			return nil, apperrors.Transient(apperrors.ErrRateLimited, http.StatusTooManyRequests, "too many chat requests, try again shortly")
		}
	}
	if len(tokenizer.Words(utterance)) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "utterance must contain words")
	}

	t := &turn{
		answer: Answer{
			TurnID:         uuid.NewString(),
			ConversationID: conversationID,
			State:          StateReceived,
			Citations:      []string{},
			Candidates:     []string{},
		},
		identity:  id,
		utterance: utterance,
		started:   p.opts.Now(),
	}
	ctx = logger.WithTurn(ctx, conversationID, t.answer.TurnID)
	t.logger = logger.FromContext(ctx).With("component", "chat-pipeline")
	ctx, span := tracing.StartSpan(ctx, "chat.turn", t.answer.TurnID)
	ctx, cancel := context.WithTimeout(ctx, p.opts.TurnTimeout)
	defer cancel()

	err := p.run(ctx, t)
	span.SetAttr("state", t.answer.State.String())
	span.SetAttr("candidates", len(t.candidates))
	if err != nil {
		span.EndWithError(err)
	} else {
		span.End()
	}
	if p.opts.TraceTurns {
		span.Log(t.logger)
	}
	p.finish(t, err)
	if err != nil {
		return nil, err
	}
	return &t.answer, nil
}

func (p *Pipeline) run(ctx context.Context, t *turn) error {
	p.stage(ctx, "plan", func(ctx context.Context) error {
		t.plan = p.opts.Extractor.Extract(t.utterance, p.opts.MaxQueryTerms)
		return nil
	})
	t.advance(StatePlanned)

	if err := p.stage(ctx, "retrieve", func(ctx context.Context) error {
		return p.retrieve(ctx, t)
	}); err != nil {
		t.advance(StateRejected)
		return err
	}
	t.advance(StateRetrieved)

	if len(t.candidates) == 0 {
		t.answer.Text = NoMatchText
		t.advance(StateDelivered)
		return nil
	}

	if err := p.stage(ctx, "generate", func(ctx context.Context) error {
		raw, err := p.completer.Complete(ctx, completion.Request{
			Context:   BuildContext(t.candidates, p.opts.DescriptionChars),
			Utterance: t.utterance,
			MaxTokens: p.opts.MaxTokens,
			Timeout:   p.opts.CompleteTimeout,
		})
		t.raw = raw
		return err
	}); err != nil {
		t.advance(StateRejected)
		return generationError(t.logger, err)
	}
	t.advance(StateGenerated)

	var v verdict
	p.stage(ctx, "validate", func(ctx context.Context) error {
		v = validate(t.raw, t.candidates, p.opts.Titles, p.opts.RequireCitation)
		return nil
	})
	t.advance(StateValidated)

	if !v.ok() {
		p.reject(ctx, t, v.reason)
		return nil
	}
	t.answer.Text = t.raw
	t.answer.Citations = v.citations
	t.advance(StateDelivered)
	return nil
}

// generationError maps a completion failure to the caller's error. A
// rejected request or an unusable reply will fail again unchanged, so only
// timeouts and outages are reported as retryable.
func generationError(log *slog.Logger, err error) error {
	kind := completion.KindOf(err)
	log.Warn("completion failed", "kind", kind, "error", err)
	switch {
	case kind == completion.KindRejected:
		return apperrors.New(apperrors.ErrGenerationFailed, http.StatusBadGateway,
			"the assistant could not process this request")
	case kind == completion.KindMalformed:
		return apperrors.New(apperrors.ErrGenerationFailed, http.StatusBadGateway,
			"the assistant returned an unusable answer")
	case kind == completion.KindTimeout || errors.Is(err, context.DeadlineExceeded):
		return apperrors.Transient(apperrors.ErrGenerationFailed, http.StatusGatewayTimeout,
			"the assistant took too long to answer")
	default:
		return apperrors.Transient(apperrors.ErrGenerationFailed, http.StatusBadGateway,
			"the assistant is unavailable, try again later")
	}
}

// retrieve runs the planned search, retrying once on a transient failure.
func (p *Pipeline) retrieve(ctx context.Context, t *turn) error {
	req := planner.Request{
		Filters: t.plan.Filters,
		Text:    t.plan.Text,
		Sort:    t.plan.Sort,
		Size:    p.opts.MaxCandidates,
	}
	var res *planner.Result
	err := resilience.Retry(ctx, "chat-retrieval", resilience.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Retryable:    apperrors.IsTransient,
	}, func() error {
		var err error
		res, err = p.search.Search(ctx, req)
		return err
	})
	if err != nil {
		t.logger.Error("retrieval failed", "error", err)
		if apperrors.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Transient(apperrors.ErrRetrievalUnavailable, http.StatusServiceUnavailable,
				"the catalog is temporarily unavailable")
		}
		return apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError, "catalog retrieval failed")
	}
	t.candidates = res.Books
	if len(t.candidates) > p.opts.MaxCandidates {
		t.candidates = t.candidates[:p.opts.MaxCandidates]
	}
	for _, b := range t.candidates {
		t.answer.Candidates = append(t.answer.Candidates, b.ID)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.ChatCandidatesCount.Observe(float64(len(t.candidates)))
	}
	return nil
}

func (p *Pipeline) reject(ctx context.Context, t *turn, reason string) {
	t.advance(StateRejected)
	t.answer.Text = FallbackText
	t.answer.Fallback = true
	t.answer.Citations = []string{}
	t.logger.Warn("answer rejected",
		"error", apperrors.ErrHallucinationRejected,
		"reason", reason,
		"candidates", t.answer.Candidates,
		"raw_output", t.raw,
	)
	if p.opts.Reviews == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.opts.Reviews.Record(rctx, Review{
		TurnID:         t.answer.TurnID,
		ConversationID: t.answer.ConversationID,
		IdentityID:     t.identity.ID,
		Utterance:      t.utterance,
		Candidates:     t.answer.Candidates,
		RawOutput:      t.raw,
		Reason:         reason,
		At:             p.opts.Now(),
	}); err != nil {
		t.logger.Error("recording rejected turn failed", "error", err)
	}
}

// stage runs fn inside a child span and records its latency.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "chat."+name)
	err := fn(ctx)
	if err != nil {
		span.EndWithError(err)
	} else {
		span.End()
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.ChatTurnDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

func (p *Pipeline) finish(t *turn, err error) {
	outcome := t.answer.State.String()
	reason := ""
	switch {
	case err != nil:
		outcome = "failed"
		reason = apperrors.Kind(err)
	case t.answer.State == StateDelivered && len(t.candidates) == 0:
		outcome = "no_match"
	case t.answer.Fallback:
		reason = "hallucination_rejected"
	}
	latency := p.opts.Now().Sub(t.started)
	if p.opts.Metrics != nil {
		p.opts.Metrics.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	}
	if p.opts.Events != nil {
		p.opts.Events.Track(analytics.ChatEvent{
			Type:           analytics.EventChatTurn,
			TurnID:         t.answer.TurnID,
			ConversationID: t.answer.ConversationID,
			State:          outcome,
			Candidates:     len(t.candidates),
			Citations:      len(t.answer.Citations),
			Reason:         reason,
			LatencyMs:      latency.Milliseconds(),
			Timestamp:      p.opts.Now().UTC(),
		})
	}
	t.logger.Info("chat turn finished",
		"outcome", outcome,
		"candidates", len(t.candidates),
		"citations", len(t.answer.Citations),
		"latency_ms", latency.Milliseconds(),
	)
}
