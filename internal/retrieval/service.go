package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hasan-murad02/rag/internal/embedding"
	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/settings"
	"github.com/hasan-murad02/rag/internal/vector"
)

const (
	DefaultThreshold float32 = 0.75
	DefaultLimit             = 10
	MaxLimit                 = 1000

	// Each question may be stored as two points, so the store is asked for
	// more candidates than the caller wants.
	overFetch = 3
)

var tracer = otel.Tracer("github.com/hasan-murad02/rag/internal/retrieval")

type Config struct {
	Collection       string
	IDField          string
	DefaultThreshold float32
	DefaultLimit     int
}

// SearchOptions overrides the configured defaults for one query. Nil fields
// fall back to the settings row, then to Config.
type SearchOptions struct {
	Threshold *float32
	Limit     *int
}

type Service struct {
	embedder embedding.Embedder
	store    vector.Store
	settings *settings.Service
	logger   *QueryLogger
	cfg      Config
}

func NewService(e embedding.Embedder, s vector.Store, set *settings.Service, l *QueryLogger, cfg Config) *Service {
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = DefaultThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.IDField == "" {
		cfg.IDField = question.DefaultSchema().IDField
	}
	return &Service{embedder: e, store: s, settings: set, logger: l, cfg: cfg}
}

// Search returns at most limit distinct questions scoring at or above the
// threshold, best first. Ties keep the order in which the store returned
// them.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) (results []question.SearchResult, err error) {
	start := time.Now()
	threshold, limit := s.Resolve(ctx, opts)

	ctx, span := tracer.Start(ctx, "retrieval.Search")
	span.SetAttributes(
		attribute.String("collection", s.cfg.Collection),
		attribute.Float64("threshold", float64(threshold)),
		attribute.Int("limit", limit),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if s.logger != nil {
			s.logger.Log(QueryLogEntry{
				Query:         query,
				NumResults:    len(results),
				Threshold:     threshold,
				Limit:         limit,
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
		span.SetAttributes(attribute.Int("results", len(results)))
		span.End()
	}()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", question.ErrInvalidInput)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be within [0, 1], got %v", question.ErrInvalidInput, threshold)
	}
	if limit <= 0 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be within [1, %d], got %d", question.ErrInvalidInput, MaxLimit, limit)
	}

	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %w", question.ErrUnavailable, err)
	}

	matches, err := s.store.Query(ctx, s.cfg.Collection, vec, limit*overFetch, threshold)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w: %w", s.cfg.Collection, question.ErrUnavailable, err)
	}

	results = Aggregate(matches, s.cfg.IDField, threshold, limit)
	slog.DebugContext(ctx, "search complete", "candidates", len(matches), "results", len(results))
	return results, nil
}

// Resolve returns the threshold and limit a search with opts would apply.
// The settings row is only read when opts leaves something unset.
func (s *Service) Resolve(ctx context.Context, opts SearchOptions) (float32, int) {
	threshold, limit := s.cfg.DefaultThreshold, s.cfg.DefaultLimit
	if s.settings != nil && (opts.Threshold == nil || opts.Limit == nil) {
		if set, err := s.settings.Get(ctx); err != nil {
			slog.WarnContext(ctx, "failed to load settings, using configured search defaults", "error", err)
		} else if set != nil {
			if set.SimilarityThreshold > 0 {
				threshold = set.SimilarityThreshold
			}
			if set.SearchLimit > 0 {
				limit = min(set.SearchLimit, MaxLimit)
			}
		}
	}
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	return threshold, limit
}

// Aggregate collapses matches to one result per question. A question's key
// is its external id, or the point id when it has none. The best scoring
// point of each question wins; the ranking is a stable descending sort on
// score over first-seen order, truncated to limit.
func Aggregate(matches []vector.Match, idField string, threshold float32, limit int) []question.SearchResult {
	best := make(map[string]int, len(matches))
	out := make([]question.SearchResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < threshold {
			continue
		}
		payload := question.PayloadFromMap(m.Payload)
		key, ok := payload.ExternalID(idField)
		if !ok {
			key = strconv.FormatUint(m.ID, 10)
		}

		if i, seen := best[key]; seen {
			if m.Score > out[i].Score {
				out[i].Score = m.Score
				out[i].Question = payload.Question()
			}
			continue
		}
		best[key] = len(out)
		out = append(out, question.SearchResult{ID: key, Question: payload.Question(), Score: m.Score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
