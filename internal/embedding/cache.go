package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Cache stores vectors by content key. Missing keys are simply absent from
// the returned map.
type Cache interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	PutMany(ctx context.Context, entries map[string][]float32) error
}

// Cached serves repeated texts from a Cache and embeds only the misses, in
// a single call to the wrapped Embedder. Cache failures degrade to a pass
// through.
type Cached struct {
	next  Embedder
	cache Cache
	model string
}

func NewCached(next Embedder, cache Cache, model string) *Cached {
	return &Cached{next: next, cache: cache, model: model}
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (c *Cached) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Cached) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	hits, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		slog.WarnContext(ctx, "embedding cache read failed", "error", err)
		hits = nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	seen := make(map[string]int)
	for i, k := range keys {
		if v, ok := hits[k]; ok {
			out[i] = v
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = len(missTexts)
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedMany(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(missTexts), len(vecs))
	}

	fresh := make(map[string][]float32, len(vecs))
	for j, v := range vecs {
		fresh[keys[missIdx[j]]] = v
	}
	for i, k := range keys {
		if out[i] == nil {
			out[i] = fresh[k]
		}
	}

	if err := c.cache.PutMany(ctx, fresh); err != nil {
		slog.WarnContext(ctx, "embedding cache write failed", "error", err)
	}
	return out, nil
}
