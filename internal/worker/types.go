package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/hasan-murad02/rag/features/job"
	"github.com/hasan-murad02/rag/internal/ingest"
)

// IngestTask asks the worker to ingest one JSON file of questions.
type IngestTask struct {
	TaskID        string `json:"task_id"`
	JSONFilePath  string `json:"json_file_path"`
	BatchSize     int    `json:"batch_size,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func NewIngestTask(path string, batchSize int, correlationID string) IngestTask {
	return IngestTask{
		TaskID:        uuid.New().String(),
		JSONFilePath:  path,
		BatchSize:     batchSize,
		CorrelationID: correlationID,
	}
}

type Ingester interface {
	IngestFile(ctx context.Context, path string, batchSize int) (ingest.Report, error)
}

type JobRepo interface {
	Save(ctx context.Context, j *job.Job) error
}
