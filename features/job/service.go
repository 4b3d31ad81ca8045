package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hasan-murad02/rag/internal/config"
)

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

const publishTimeout = 5 * time.Second

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo    Repository
	pub     EventPublisher
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, timeout: publishTimeout}
}

// WithPublishTimeout bounds how long Retry waits on the broker.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

func (s *Service) Save(ctx context.Context, j *Job) error {
	return s.repo.Save(ctx, j)
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry republishes the job's task and removes the job once the broker has
// accepted it.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.pub == nil {
		return fmt.Errorf("retry job %s: no publisher configured", id)
	}

	topic := job.Handler
	if topic == "" {
		topic = config.TopicIngestQuestions
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("republish job %s: %w", id, err)
		}
	case <-time.After(s.timeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "job republished", "id", id, "topic", topic, "task_id", job.TaskID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
