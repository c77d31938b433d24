package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/middleware"
)

// RouterConfig carries the middleware collaborators. Keys and Limiter may
// be nil to disable authentication and rate limiting.
type RouterConfig struct {
	Health         *health.Checker
	Metrics        *metrics.Metrics
	Keys           apikey.KeyValidator
	RequireKey     bool
	Limiter        *ratelimit.Limiter
	RequestTimeout time.Duration
	CORS           middleware.CORSConfig
}

// NewRouter builds the HTTP surface.
//
// Route table:
//
//	GET    /api/v1/books/search
//	GET    /api/v1/books/popular
//	GET    /api/v1/books/trending
//	GET    /api/v1/books/new
//	GET    /api/v1/books/{id}
//	POST   /api/v1/chat
//	GET    /api/v1/cache/stats
//	POST   /api/v1/cache/invalidate
//	GET    /health/live
//	GET    /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Timeout → Auth → RateLimit → mux
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health/live", cfg.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadyHandler())
	}

	mux.HandleFunc("GET /api/v1/books/search", h.Search)
	mux.HandleFunc("GET /api/v1/books/popular", h.Popular)
	mux.HandleFunc("GET /api/v1/books/trending", h.Trending)
	mux.HandleFunc("GET /api/v1/books/new", h.New)
	mux.HandleFunc("GET /api/v1/books/{id}", h.Book)

	mux.HandleFunc("POST /api/v1/chat", h.Chat)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(cfg.CORS),
	}
	if cfg.Metrics != nil {
		mws = append(mws, middleware.Metrics(cfg.Metrics))
	}
	if cfg.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.Keys != nil {
		mws = append(mws, apikey.Middleware(cfg.Keys, cfg.RequireKey))
	}
	if cfg.Limiter != nil {
		mws = append(mws, ratelimit.Middleware(cfg.Limiter))
	}
	return middleware.Chain(mux, mws...)
}
