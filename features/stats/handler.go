package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hasan-murad02/rag/internal/middleware"
)

// IndexCounter reports the size of the question collection.
type IndexCounter interface {
	Collection() string
	Count(ctx context.Context) (int64, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	index   IndexCounter
	jobRepo JobRepo
}

func NewHandler(index IndexCounter, j JobRepo) *Handler {
	return &Handler{index: index, jobRepo: j}
}

type StatsResponse struct {
	Collection string `json:"collection"`
	Points     int64  `json:"points"`
	FailedJobs int    `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	points, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count points", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count points", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Collection: h.index.Collection(),
		Points:     points,
		FailedJobs: jCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
