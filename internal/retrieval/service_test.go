package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/retrieval"
	"github.com/hasan-murad02/rag/internal/settings"
	"github.com/hasan-murad02/rag/internal/vector"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	return args.Get(0).([][]float32), args.Error(1)
}

// MockStore only implements Query; the other methods are never reached.
type MockStore struct {
	mock.Mock
	vector.Store
}

func (m *MockStore) Query(ctx context.Context, name string, vec []float32, limit int, threshold float32) ([]vector.Match, error) {
	args := m.Called(ctx, name, vec, limit, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

type MockSettingsRepo struct{ mock.Mock }

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func match(id uint64, score float32, extID string, kind question.EmbeddingKind) vector.Match {
	meta := map[string]any{}
	if extID != "" {
		meta["_id"] = extID
	}
	return vector.Match{
		ID:    id,
		Score: score,
		Payload: question.Payload{
			Text:      "question " + extID,
			TextField: "QuestionText",
			Metadata:  meta,
			Kind:      kind,
		}.Map(),
	}
}

func ptr[T any](v T) *T { return &v }

func newService(e *MockEmbedder, s *MockStore, repo *MockSettingsRepo, l *retrieval.QueryLogger) *retrieval.Service {
	return retrieval.NewService(e, s, settings.NewService(repo), l, retrieval.Config{Collection: "premed_questions", IDField: "_id"})
}

func TestService_Search(t *testing.T) {
	tests := []struct {
		name    string
		opts    retrieval.SearchOptions
		setup   func(*MockEmbedder, *MockStore, *MockSettingsRepo)
		wantErr error
		check   func(*testing.T, []question.SearchResult)
	}{
		{
			name: "Defaults From Config Over-fetch Three Times",
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 30, float32(0.75)).
					Return([]vector.Match{match(1, 0.9, "a", question.KindPrimaryOnly)}, nil)
			},
			check: func(t *testing.T, res []question.SearchResult) {
				require.Len(t, res, 1)
				assert.Equal(t, "a", res[0].ID)
				assert.Equal(t, "question a", res[0].Question["QuestionText"])
			},
		},
		{
			name: "Settings Override Config",
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{SimilarityThreshold: 0.6, SearchLimit: 4}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 12, float32(0.6)).Return([]vector.Match{}, nil)
			},
			check: func(t *testing.T, res []question.SearchResult) { assert.Empty(t, res) },
		},
		{
			name: "Options Override Settings",
			opts: retrieval.SearchOptions{Threshold: ptr(float32(0.9)), Limit: ptr(2)},
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{SimilarityThreshold: 0.6, SearchLimit: 4}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 6, float32(0.9)).Return([]vector.Match{}, nil)
			},
			check: func(t *testing.T, res []question.SearchResult) { assert.NotNil(t, res) },
		},
		{
			name: "Settings Failure Falls Back To Config",
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(nil, errors.New("db down"))
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 30, float32(0.75)).Return([]vector.Match{}, nil)
			},
		},
		{
			name: "High Threshold Returns Empty Not Error",
			opts: retrieval.SearchOptions{Threshold: ptr(float32(0.9))},
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				// a store that ignores the threshold
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 30, float32(0.9)).
					Return([]vector.Match{match(1, 0.5, "a", question.KindPrimaryOnly)}, nil)
			},
			check: func(t *testing.T, res []question.SearchResult) { assert.Empty(t, res) },
		},
		{
			name:    "Invalid Threshold",
			opts:    retrieval.SearchOptions{Threshold: ptr(float32(1.5))},
			setup:   func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) { set.On("Get", mock.Anything).Return(&settings.Settings{}, nil) },
			wantErr: question.ErrInvalidInput,
		},
		{
			name:    "Invalid Limit",
			opts:    retrieval.SearchOptions{Limit: ptr(0)},
			setup:   func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) { set.On("Get", mock.Anything).Return(&settings.Settings{}, nil) },
			wantErr: question.ErrInvalidInput,
		},
		{
			name:    "Limit Above Maximum",
			opts:    retrieval.SearchOptions{Limit: ptr(retrieval.MaxLimit + 1)},
			setup:   func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) { set.On("Get", mock.Anything).Return(&settings.Settings{}, nil) },
			wantErr: question.ErrInvalidInput,
		},
		{
			name: "Embedder Error",
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return(nil, errors.New("quota"))
			},
			wantErr: question.ErrUnavailable,
		},
		{
			name: "Store Error",
			setup: func(e *MockEmbedder, s *MockStore, set *MockSettingsRepo) {
				set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)
				e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 30, float32(0.75)).Return(nil, errors.New("connection refused"))
			},
			wantErr: question.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s, set := new(MockEmbedder), new(MockStore), new(MockSettingsRepo)
			tt.setup(e, s, set)

			res, err := newService(e, s, set, nil).Search(context.Background(), "mitosis", tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, res)
			}
			e.AssertExpectations(t)
			s.AssertExpectations(t)
		})
	}
}

func TestService_Search_EmptyQuery(t *testing.T) {
	e, s, set := new(MockEmbedder), new(MockStore), new(MockSettingsRepo)
	set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)

	_, err := newService(e, s, set, nil).Search(context.Background(), "   ", retrieval.SearchOptions{})
	assert.ErrorIs(t, err, question.ErrInvalidInput)
	e.AssertNotCalled(t, "EmbedOne", mock.Anything, mock.Anything)
}

func TestService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults", func(t *testing.T) {
		set := new(MockSettingsRepo)
		set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)

		threshold, limit := newService(new(MockEmbedder), new(MockStore), set, nil).Resolve(ctx, retrieval.SearchOptions{})
		assert.Equal(t, retrieval.DefaultThreshold, threshold)
		assert.Equal(t, retrieval.DefaultLimit, limit)
	})

	t.Run("Settings Row", func(t *testing.T) {
		set := new(MockSettingsRepo)
		set.On("Get", mock.Anything).Return(&settings.Settings{SimilarityThreshold: 0.6, SearchLimit: 5000}, nil)

		threshold, limit := newService(new(MockEmbedder), new(MockStore), set, nil).Resolve(ctx, retrieval.SearchOptions{})
		assert.Equal(t, float32(0.6), threshold)
		assert.Equal(t, retrieval.MaxLimit, limit)
	})

	t.Run("Explicit Options Skip Settings", func(t *testing.T) {
		set := new(MockSettingsRepo)

		threshold, limit := newService(new(MockEmbedder), new(MockStore), set, nil).
			Resolve(ctx, retrieval.SearchOptions{Threshold: ptr(float32(0.9)), Limit: ptr(3)})
		assert.Equal(t, float32(0.9), threshold)
		assert.Equal(t, 3, limit)
		set.AssertNotCalled(t, "Get", mock.Anything)
	})
}

func TestService_Search_LogsQuery(t *testing.T) {
	var buf bytes.Buffer
	e, s, set := new(MockEmbedder), new(MockStore), new(MockSettingsRepo)
	set.On("Get", mock.Anything).Return(&settings.Settings{}, nil)
	e.On("EmbedOne", mock.Anything, "mitosis").Return([]float32{0.1}, nil)
	s.On("Query", mock.Anything, "premed_questions", []float32{0.1}, 30, float32(0.75)).
		Return([]vector.Match{match(1, 0.8, "a", question.KindPrimaryOnly)}, nil)

	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")
	_, err := newService(e, s, set, retrieval.NewQueryLogger(&buf)).Search(ctx, "mitosis", retrieval.SearchOptions{})
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mitosis", entry.Query)
	assert.Equal(t, 1, entry.NumResults)
	assert.Equal(t, 10, entry.Limit)
	assert.Equal(t, "corr-1", entry.CorrelationID)
}

func TestAggregate(t *testing.T) {
	t.Run("Keeps Best Score Per Question", func(t *testing.T) {
		res := retrieval.Aggregate([]vector.Match{
			match(1, 0.80, "a", question.KindPrimaryOnly),
			match(2, 0.95, "a", question.KindPrimaryWithContext),
			match(3, 0.85, "b", question.KindPrimaryOnly),
		}, "_id", 0.75, 10)

		require.Len(t, res, 2)
		assert.Equal(t, "a", res[0].ID)
		assert.Equal(t, float32(0.95), res[0].Score)
		assert.Equal(t, "b", res[1].ID)
	})

	t.Run("Unique Identifiers And Descending Order", func(t *testing.T) {
		matches := []vector.Match{
			match(1, 0.90, "a", question.KindPrimaryOnly),
			match(2, 0.91, "b", question.KindPrimaryOnly),
			match(3, 0.99, "a", question.KindPrimaryWithContext),
			match(4, 0.92, "c", question.KindPrimaryOnly),
			match(5, 0.93, "b", question.KindPrimaryWithContext),
		}
		res := retrieval.Aggregate(matches, "_id", 0, 10)

		seen := map[string]bool{}
		for i, r := range res {
			assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
			seen[r.ID] = true
			if i > 0 {
				assert.GreaterOrEqual(t, res[i-1].Score, r.Score)
			}
		}
		assert.Equal(t, []string{"a", "b", "c"}, []string{res[0].ID, res[1].ID, res[2].ID})
	})

	t.Run("Ties Keep First Seen Order", func(t *testing.T) {
		res := retrieval.Aggregate([]vector.Match{
			match(1, 0.8, "x", question.KindPrimaryOnly),
			match(2, 0.8, "y", question.KindPrimaryOnly),
			match(3, 0.8, "x", question.KindPrimaryWithContext),
		}, "_id", 0.5, 10)
		require.Len(t, res, 2)
		assert.Equal(t, "x", res[0].ID)
		assert.Equal(t, "y", res[1].ID)
	})

	t.Run("Falls Back To Point ID", func(t *testing.T) {
		res := retrieval.Aggregate([]vector.Match{
			match(7, 0.8, "", question.KindPrimaryOnly),
			match(8, 0.8, "", question.KindPrimaryOnly),
		}, "_id", 0.5, 10)
		require.Len(t, res, 2)
		assert.Equal(t, "7", res[0].ID)
		assert.Equal(t, "8", res[1].ID)
	})

	t.Run("Threshold And Truncation", func(t *testing.T) {
		res := retrieval.Aggregate([]vector.Match{
			match(1, 0.99, "a", question.KindPrimaryOnly),
			match(2, 0.98, "b", question.KindPrimaryOnly),
			match(3, 0.97, "c", question.KindPrimaryOnly),
			match(4, 0.40, "d", question.KindPrimaryOnly),
		}, "_id", 0.5, 2)
		require.Len(t, res, 2)
		for _, r := range res {
			assert.GreaterOrEqual(t, r.Score, float32(0.5))
		}
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, retrieval.Aggregate(nil, "_id", 0.75, 10))
	})
}
