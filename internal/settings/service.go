package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are operator-tunable values stored in a single row. Zero values
// mean "use the process configuration".
type Settings struct {
	ID                  int     `json:"-"`
	GeminiAPIKey        string  `json:"gemini_api_key"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	SearchLimit         int     `json:"search_limit"`
	BatchSize           int     `json:"batch_size"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo         Repository
	maxBatchSize int
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, maxBatchSize: 1000}
}

// WithMaxBatchSize caps the batch size accepted by Update.
func (s *Service) WithMaxBatchSize(n int) *Service {
	s.maxBatchSize = n
	return s
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := s.validate(set); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

func (s *Service) validate(set *Settings) error {
	if set.SimilarityThreshold < 0 || set.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be within [0, 1], got %v", ErrInvalidSettings, set.SimilarityThreshold)
	}
	if set.SearchLimit < 0 {
		return fmt.Errorf("%w: search_limit must not be negative, got %d", ErrInvalidSettings, set.SearchLimit)
	}
	if set.BatchSize < 0 || set.BatchSize > s.maxBatchSize {
		return fmt.Errorf("%w: batch_size must be within [0, %d], got %d", ErrInvalidSettings, s.maxBatchSize, set.BatchSize)
	}
	return nil
}
