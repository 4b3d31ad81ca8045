package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hasan-murad02/rag/features/job"
	"github.com/hasan-murad02/rag/features/mcp"
	"github.com/hasan-murad02/rag/features/questions"
	"github.com/hasan-murad02/rag/features/stats"
	"github.com/hasan-murad02/rag/internal/adapter/gemini"
	"github.com/hasan-murad02/rag/internal/config"
	"github.com/hasan-murad02/rag/internal/embedding"
	"github.com/hasan-murad02/rag/internal/ingest"
	"github.com/hasan-murad02/rag/internal/middleware"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/retrieval"
	"github.com/hasan-murad02/rag/internal/settings"
	"github.com/hasan-murad02/rag/internal/vector"
	"github.com/hasan-murad02/rag/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler        http.Handler
	Pipeline       *ingest.Pipeline
	Retrieval      *retrieval.Service
	IngestConsumer *worker.IngestConsumer

	port int
}

type options struct {
	embedder embedding.Embedder
	cache    embedding.Cache
}

type Option func(*options)

// WithEmbedder replaces the Gemini embedder, which is otherwise built from
// the settings row and GEMINI_API_KEY.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCache puts an embedding cache in front of the provider.
func WithCache(c embedding.Cache) Option {
	return func(o *options) { o.cache = c }
}

func New(
	cfg *config.Config,
	db *sql.DB,
	store vector.Store,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts ...Option,
) (*App, error) {
	if db == nil || store == nil {
		return nil, errors.New("app: db and vector store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo).WithMaxBatchSize(cfg.MaxBatchSize)
	seedGeminiKey(context.Background(), settingsService, cfg.GeminiAPIKey)
	settingsHandler := settings.NewHandler(settingsService)

	// Embeddings: provider, then rate limit, then cache.
	var embedder embedding.Embedder = o.embedder
	if embedder == nil {
		embedder = gemini.NewDynamicEmbedder(settingsService, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
	}
	embedder = embedding.NewLimited(embedder, cfg.EmbedRatePerSecond, cfg.EmbedBurst)
	if o.cache != nil {
		embedder = embedding.NewCached(embedder, o.cache, cfg.GeminiEmbeddingModel)
	}

	schema := question.Schema{
		TextFields:    cfg.QuestionTextFields,
		ContextFields: cfg.QuestionContextFields,
		IDField:       cfg.QuestionIDField,
	}

	// Core: ingestion and search
	pipeline := ingest.NewPipeline(store, embedder, ingest.Config{
		Collection:       cfg.CollectionName,
		Schema:           schema,
		DefaultBatchSize: cfg.IngestBatchSize,
	})

	queryLogger := retrieval.NewQueryLogger(os.Stdout)
	if cfg.QueryLogPath != "" {
		fileLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		} else {
			queryLogger = fileLogger
		}
	}
	retrievalService := retrieval.NewService(embedder, store, settingsService, queryLogger, retrieval.Config{
		Collection:       cfg.CollectionName,
		IDField:          schema.IDField,
		DefaultThreshold: cfg.SimilarityThreshold,
		DefaultLimit:     cfg.SearchLimit,
	})

	// Feature: Questions
	questionService := questions.NewService(pipeline, retrievalService, taskPub, settingsService, questions.Config{
		DefaultBatchSize: cfg.IngestBatchSize,
		MaxBatchSize:     cfg.MaxBatchSize,
	})
	questionHandler := questions.NewHandler(questionService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(pipeline, jobRepo)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(retrievalService)

	// Routes
	mux := http.NewServeMux()
	route := func(h http.Handler) http.Handler { return middleware.CorrelationID(h) }

	questionHandler.Register(mux, route)

	mux.Handle("GET /settings", route(http.HandlerFunc(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", route(http.HandlerFunc(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", route(http.HandlerFunc(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", route(http.HandlerFunc(jobHandler.Retry)))

	mux.Handle("GET /stats", route(http.HandlerFunc(statsHandler.GetStats)))

	mux.Handle("/mcp", route(mcpHandler))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker
	ingestConsumer := worker.NewIngestConsumer(pipeline, jobRepo, cfg.IngestMaxAttempts)

	return &App{
		Handler:        otelhttp.NewHandler(middleware.CORS(mux), "rag"),
		Pipeline:       pipeline,
		Retrieval:      retrievalService,
		IngestConsumer: ingestConsumer,
		port:           cfg.ServerPort,
	}, nil
}

// seedGeminiKey copies the environment key into an empty settings row.
func seedGeminiKey(ctx context.Context, svc *settings.Service, key string) {
	if key == "" {
		return
	}
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = key
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
		return
	}
	slog.Info("seeded gemini api key from environment")
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
