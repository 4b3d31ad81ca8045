package vector

import (
	"context"
	"errors"
)

var ErrCollectionNotFound = errors.New("collection not found")

// Point is one vector with its store-local numeric id.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// Record is a point read back by Scroll, without its vector.
type Record struct {
	ID      uint64
	Payload map[string]any
}

// Match is a scored query hit.
type Match struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// Store is the contract every vector backend implements. Collections use
// cosine similarity, so scores are in [-1, 1] and higher is closer.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dim int) error
	DeleteCollection(ctx context.Context, name string) error
	// Upsert is idempotent per point id.
	Upsert(ctx context.Context, name string, points []Point) error
	// Scroll returns one page of a stable, backend-defined order. An empty
	// next cursor means there are no further pages.
	Scroll(ctx context.Context, name string, pageSize int, cursor string) ([]Record, string, error)
	// Query returns at most limit matches scoring at or above threshold,
	// best first.
	Query(ctx context.Context, name string, vec []float32, limit int, threshold float32) ([]Match, error)
	Count(ctx context.Context, name string) (int64, error)
}
