package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-embedding-001"

	// batchEmbedContents accepts at most 100 requests per call.
	maxBatch = 100
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Close() error {
	return e.client.Close()
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e.client, e.model, text)
}

func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return embedMany(ctx, e.client, e.model, texts)
}

func embedOne(ctx context.Context, client *genai.Client, model, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", model, "length", len(text))
	res, err := client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func embedMany(ctx context.Context, client *genai.Client, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := client.EmbeddingModel(model)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err, "size", end-start)
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(res.Embeddings))
		}
		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding received for input %d", start+i)
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
