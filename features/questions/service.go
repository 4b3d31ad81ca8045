package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hasan-murad02/rag/internal/config"
	"github.com/hasan-murad02/rag/internal/ingest"
	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/retrieval"
	"github.com/hasan-murad02/rag/internal/settings"
	"github.com/hasan-murad02/rag/internal/worker"
)

var ErrAsyncDisabled = errors.New("async ingestion is not configured")

type Ingester interface {
	Collection() string
	Ingest(ctx context.Context, records []question.Record, batchSize int) (ingest.Report, error)
	IngestFile(ctx context.Context, path string, batchSize int) (ingest.Report, error)
	Clear(ctx context.Context) error
}

type Searcher interface {
	Resolve(ctx context.Context, opts retrieval.SearchOptions) (float32, int)
	Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]question.SearchResult, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Config struct {
	DefaultBatchSize int
	MaxBatchSize     int
}

type Service struct {
	ingester Ingester
	searcher Searcher
	pub      TaskPublisher
	settings *settings.Service
	cfg      Config
}

// NewService wires the question API. pub and set may be nil: async loads are
// then rejected and batch sizes come from cfg only.
func NewService(i Ingester, s Searcher, pub TaskPublisher, set *settings.Service, cfg Config) *Service {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = ingest.DefaultBatchSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &Service{ingester: i, searcher: s, pub: pub, settings: set, cfg: cfg}
}

func (s *Service) Collection() string {
	return s.ingester.Collection()
}

// batchSize validates an explicit size, or picks the settings row value and
// then the configured default.
func (s *Service) batchSize(ctx context.Context, requested *int) (int, error) {
	if requested != nil {
		if *requested < 1 || *requested > s.cfg.MaxBatchSize {
			return 0, fmt.Errorf("%w: batch_size must be within [1, %d], got %d", question.ErrInvalidInput, s.cfg.MaxBatchSize, *requested)
		}
		return *requested, nil
	}
	if s.settings != nil {
		set, err := s.settings.Get(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to load settings, using configured batch size", "error", err)
		} else if set != nil && set.BatchSize > 0 {
			return min(set.BatchSize, s.cfg.MaxBatchSize), nil
		}
	}
	return s.cfg.DefaultBatchSize, nil
}

func (s *Service) LoadFile(ctx context.Context, path string, batch *int) (ingest.Report, error) {
	if path == "" {
		return ingest.Report{}, fmt.Errorf("%w: json_file_path is required", question.ErrInvalidInput)
	}
	size, err := s.batchSize(ctx, batch)
	if err != nil {
		return ingest.Report{}, err
	}
	return s.ingester.IngestFile(ctx, path, size)
}

// LoadFileAsync checks that the file exists and queues it for the worker.
func (s *Service) LoadFileAsync(ctx context.Context, path string, batch *int) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: json_file_path is required", question.ErrInvalidInput)
	}
	if s.pub == nil {
		return "", ErrAsyncDisabled
	}
	size, err := s.batchSize(ctx, batch)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Clean(path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: json file not found: %s", question.ErrInputNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	task := worker.NewIngestTask(path, size, middleware.GetCorrelationID(ctx))
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode ingest task: %w", err)
	}
	if err := s.pub.Publish(config.TopicIngestQuestions, body); err != nil {
		return "", fmt.Errorf("publish ingest task: %w: %w", question.ErrUnavailable, err)
	}
	slog.InfoContext(ctx, "ingest task queued", "task_id", task.TaskID, "path", path, "batch_size", size)
	return task.TaskID, nil
}

func (s *Service) AddQuestions(ctx context.Context, records []question.Record, batch *int) (ingest.Report, error) {
	if len(records) == 0 {
		return ingest.Report{}, fmt.Errorf("%w: questions must not be empty", question.ErrInvalidInput)
	}
	size, err := s.batchSize(ctx, batch)
	if err != nil {
		return ingest.Report{}, err
	}
	return s.ingester.Ingest(ctx, records, size)
}

// Search also returns the threshold it applied, whether it came from the
// request, the settings row or the default.
func (s *Service) Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]question.SearchResult, float32, error) {
	threshold, limit := s.searcher.Resolve(ctx, opts)
	results, err := s.searcher.Search(ctx, query, retrieval.SearchOptions{Threshold: &threshold, Limit: &limit})
	if err != nil {
		return nil, 0, err
	}
	return results, threshold, nil
}

func (s *Service) Clear(ctx context.Context) error {
	return s.ingester.Clear(ctx)
}
