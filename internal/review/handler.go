package review

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	json "github.com/goccy/go-json"
)

// Lister is satisfied by *Store.
type Lister interface {
	List(ctx context.Context, limit int) ([]chat.Review, error)
}

// Handler serves rejected turns to operators.
type Handler struct {
	reviews Lister
	logger  *slog.Logger
}

func NewHandler(reviews Lister) *Handler {
	return &Handler{
		reviews: reviews,
		logger:  slog.Default().With("component", "review-handler"),
	}
}

// List serves GET /api/v1/chat/reviews?limit=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 500 {
			h.write(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "message": "limit must be between 0 and 500"})
			return
		}
		limit = n
	}
	reviews, err := h.reviews.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing reviews failed", "error", err)
		h.write(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "internal error"})
		return
	}
	if reviews == nil {
		reviews = []chat.Review{}
	}
	h.write(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
