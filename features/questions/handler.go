package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/retrieval"
)

const (
	ServiceName = "premed-rag"
	Version     = "1.0.0"

	maxBodyBytes = 32 << 20
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type LoadRequest struct {
	JSONFilePath string `json:"json_file_path"`
	BatchSize    *int   `json:"batch_size,omitempty"`
	Async        bool   `json:"async,omitempty"`
}

type LoadResponse struct {
	Message        string `json:"message"`
	TotalObjects   int    `json:"total_objects"`
	CollectionName string `json:"collection_name"`
	Duplicates     int    `json:"duplicates"`
	Malformed      int    `json:"malformed"`
}

type AddRequest struct {
	Questions []question.Record `json:"questions"`
	BatchSize *int              `json:"batch_size,omitempty"`
}

type QueryRequest struct {
	Query     string   `json:"query"`
	Threshold *float32 `json:"threshold,omitempty"`
	Limit     *int     `json:"limit,omitempty"`
}

type QueryResponse struct {
	Query        string                  `json:"query"`
	Results      []question.SearchResult `json:"results"`
	TotalResults int                     `json:"total_results"`
	Threshold    float32                 `json:"threshold"`
}

func (h *Handler) LoadJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoadRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Async {
		taskID, err := h.service.LoadFileAsync(ctx, req.JSONFilePath, req.BatchSize)
		if err != nil {
			h.fail(ctx, w, "failed to queue json file", err)
			return
		}
		h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{"data": map[string]string{"task_id": taskID}})
		return
	}

	report, err := h.service.LoadFile(ctx, req.JSONFilePath, req.BatchSize)
	if err != nil {
		h.fail(ctx, w, "failed to load json file", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": h.loadResponse(report.Stored, report.Duplicates, report.Malformed)})
}

func (h *Handler) AddQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.service.AddQuestions(ctx, req.Questions, req.BatchSize)
	if err != nil {
		h.fail(ctx, w, "failed to add questions", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": h.loadResponse(report.Stored, report.Duplicates, report.Malformed)})
}

func (h *Handler) loadResponse(stored, duplicates, malformed int) LoadResponse {
	return LoadResponse{
		Message:        fmt.Sprintf("Successfully loaded %d questions", stored),
		TotalObjects:   stored,
		CollectionName: h.service.Collection(),
		Duplicates:     duplicates,
		Malformed:      malformed,
	}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, threshold, err := h.service.Search(ctx, req.Query, retrieval.SearchOptions{Threshold: req.Threshold, Limit: req.Limit})
	if err != nil {
		h.fail(ctx, w, "search failed", err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": QueryResponse{
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
		Threshold:    threshold,
	}})
}

func (h *Handler) ClearCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Clear(ctx); err != nil {
		h.fail(ctx, w, "failed to clear collection", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": map[string]string{
		"message":         "Collection cleared",
		"collection_name": h.service.Collection(),
	}})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.writeError(r.Context(), w, "NOT_FOUND", "Not found", http.StatusNotFound)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"message": "Premed question semantic search API",
		"version": Version,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps domain errors to HTTP statuses. Client errors echo the cause;
// server errors log it and answer with msg.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, question.ErrInvalidInput):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, question.ErrInputNotFound):
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case errors.Is(err, question.ErrUnavailable), errors.Is(err, ErrAsyncDisabled):
		slog.ErrorContext(ctx, msg, "error", err)
		h.writeError(ctx, w, "UNAVAILABLE", msg, http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(ctx, msg, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", msg, http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
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

// Register mounts the question routes on mux, each wrapped by wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/load-json", wrap(http.HandlerFunc(h.LoadJSON)))
	mux.Handle("POST /api/v1/questions", wrap(http.HandlerFunc(h.AddQuestions)))
	mux.Handle("POST /api/v1/query", wrap(http.HandlerFunc(h.Query)))
	mux.Handle("DELETE /api/v1/collection", wrap(http.HandlerFunc(h.ClearCollection)))
	mux.Handle("GET /api/v1/health", wrap(http.HandlerFunc(h.Health)))
	mux.Handle("GET /{$}", wrap(http.HandlerFunc(h.Root)))
}
