package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hasan-murad02/rag/internal/settings"
)

// DynamicEmbedder resolves the API key from runtime settings on every call,
// falling back to the configured key, and rebuilds the client when the key
// changes.
type DynamicEmbedder struct {
	settingsSvc *settings.Service
	fallbackKey string
	model       string
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewDynamicEmbedder(svc *settings.Service, fallbackKey, model string, opts ...option.ClientOption) *DynamicEmbedder {
	if model == "" {
		model = DefaultModel
	}
	return &DynamicEmbedder{
		settingsSvc: svc,
		fallbackKey: fallbackKey,
		model:       model,
		clientOpts:  opts,
	}
}

func (e *DynamicEmbedder) Model() string { return e.model }

func (e *DynamicEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	client, err := e.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return embedOne(ctx, client, e.model, text)
}

func (e *DynamicEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := e.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return embedMany(ctx, client, e.model, texts)
}

func (e *DynamicEmbedder) resolve(ctx context.Context) (*genai.Client, error) {
	key := e.fallbackKey
	s, err := e.settingsSvc.Get(ctx)
	switch {
	case err != nil && key == "":
		return nil, fmt.Errorf("failed to get settings: %w", err)
	case err != nil:
		slog.WarnContext(ctx, "settings unavailable, using configured gemini key", "error", err)
	case s.GeminiAPIKey != "":
		key = s.GeminiAPIKey
	}

	if key == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	return e.getClient(ctx, key)
}

func (e *DynamicEmbedder) getClient(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, e.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	e.client = client
	e.currentKey = key
	return client, nil
}
