package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"github.com/hasan-murad02/rag/features/job"
	"github.com/hasan-murad02/rag/internal/config"
	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
)

const DefaultMaxAttempts = 3

type IngestConsumer struct {
	ingester    Ingester
	jobs        JobRepo
	topic       string
	maxAttempts uint16
}

func NewIngestConsumer(i Ingester, jobs JobRepo, maxAttempts uint16) *IngestConsumer {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &IngestConsumer{
		ingester:    i,
		jobs:        jobs,
		topic:       config.TopicIngestQuestions,
		maxAttempts: maxAttempts,
	}
}

// HandleMessage runs one ingest task. Bad input is recorded as a failed job
// straight away; collaborator failures are requeued until the attempt budget
// is spent and then recorded.
func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: a redelivery will not fix malformed JSON.
		slog.Error("poison pill: invalid ingest task", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	if task.JSONFilePath == "" {
		h.saveFailed(ctx, task, m.Body, "json_file_path is required", int(m.Attempts))
		return nil
	}

	slog.InfoContext(ctx, "ingest task received", "task_id", task.TaskID, "path", task.JSONFilePath, "attempt", m.Attempts)

	report, err := h.ingester.IngestFile(ctx, task.JSONFilePath, task.BatchSize)
	if err == nil {
		slog.InfoContext(ctx, "ingest task complete", "task_id", task.TaskID,
			"stored", report.Stored, "duplicates", report.Duplicates, "malformed", report.Malformed)
		return nil
	}

	permanent := errors.Is(err, question.ErrInputNotFound) || errors.Is(err, question.ErrInvalidInput)
	if !permanent && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "ingest task failed, requeueing", "task_id", task.TaskID, "attempt", m.Attempts, "error", err)
		return err
	}

	slog.ErrorContext(ctx, "ingest task failed", "task_id", task.TaskID, "attempt", m.Attempts, "error", err)
	h.saveFailed(ctx, task, m.Body, err.Error(), int(m.Attempts))
	return nil
}

func (h *IngestConsumer) saveFailed(ctx context.Context, task IngestTask, body []byte, reason string, attempts int) {
	if h.jobs == nil {
		return
	}
	failed := &job.Job{
		TaskID:  task.TaskID,
		Handler: h.topic,
		Payload: json.RawMessage(body),
		Error:   reason,
		Retries: attempts,
	}
	if err := h.jobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "task_id", task.TaskID, "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID, "task_id", task.TaskID)
}
