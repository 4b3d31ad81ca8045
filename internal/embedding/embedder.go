package embedding

import "context"

// Embedder turns text into fixed-length vectors. EmbedMany is one-to-one and
// order-preserving; it fails as a whole if any input cannot be embedded.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}
