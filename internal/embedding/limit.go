package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls into the wrapped Embedder with a token bucket.
type Limited struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls with the given burst. perSecond <= 0
// disables throttling.
func NewLimited(next Embedder, perSecond float64, burst int) *Limited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}
	return l.next.EmbedOne(ctx, text)
}

func (l *Limited) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}
	return l.next.EmbedMany(ctx, texts)
}
