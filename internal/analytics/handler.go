package analytics

import (
	"log/slog"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
)

// maxTop bounds the top query parameter.
const maxTop = 100

type searchSection struct {
	TotalSearches     int64            `json:"total_searches"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	SortUsage         map[string]int64 `json:"sort_usage"`
}

type chatSection struct {
	ChatTurns        int64            `json:"chat_turns"`
	ChatOutcomes     map[string]int64 `json:"chat_outcomes"`
	RejectionReasons []QueryCount     `json:"rejection_reasons"`
	AvgChatLatencyMs float64          `json:"avg_chat_latency_ms"`
}

// Handler serves the aggregate over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves GET /api/v1/analytics. ?section=search or ?section=chat
// narrows the response; ?top=N sizes the ranked lists.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := DefaultTop
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTop {
			h.write(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_input",
				"message": "top must be an integer in [1, " + strconv.Itoa(maxTop) + "]",
			})
			return
		}
		top = n
	}

	stats := h.aggregator.StatsTop(top)
	switch section := r.URL.Query().Get("section"); section {
	case "":
		h.write(w, http.StatusOK, stats)
	case "search":
		h.write(w, http.StatusOK, searchSection{
			TotalSearches:     stats.TotalSearches,
			ZeroResultCount:   stats.ZeroResultCount,
			P95LatencyMs:      stats.P95LatencyMs,
			TopQueries:        stats.TopQueries,
			ZeroResultQueries: stats.ZeroResultQueries,
			SortUsage:         stats.SortUsage,
		})
	case "chat":
		h.write(w, http.StatusOK, chatSection{
			ChatTurns:        stats.ChatTurns,
			ChatOutcomes:     stats.ChatOutcomes,
			RejectionReasons: stats.RejectionReasons,
			AvgChatLatencyMs: stats.AvgChatLatencyMs,
		})
	default:
		h.write(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": "unknown section " + strconv.Quote(section),
		})
	}
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
