package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/hasan-murad02/rag/internal/adapter/qdrant"
	"github.com/hasan-murad02/rag/internal/adapter/sqlite"
	wstore "github.com/hasan-murad02/rag/internal/adapter/weaviate"
	"github.com/hasan-murad02/rag/internal/config"
	"github.com/hasan-murad02/rag/internal/vector"
)

// Pinger is implemented by vector stores that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	DB          *sql.DB
	VectorStore vector.Store
	NSQProducer *nsq.Producer
	Redis       *goredis.Client
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	attempts := max(cfg.BootstrapRetryAttempts, 1)

	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := WithRetry(ctx, "db", attempts, retryDelay, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.InfoContext(ctx, "migrations applied")

	// Vector store
	store, err := OpenVectorStore(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vector store error: %w", err)
	}
	if p, ok := store.(Pinger); ok {
		if err := WithRetry(ctx, cfg.Backend(), attempts, retryDelay, p.Ping); err != nil {
			closeQuietly(store)
			db.Close()
			return nil, fmt.Errorf("vector store unavailable: %w", err)
		}
	}
	slog.InfoContext(ctx, "vector store ready", "backend", cfg.Backend(), "collection", cfg.CollectionName)

	// NSQ producer; nsqd is dialed lazily on first publish.
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		closeQuietly(store)
		db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	createTopics(ctx, cfg.NSQDHTTP)

	deps := &Dependencies{DB: db, VectorStore: store, NSQProducer: producer}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "error", err)
			client.Close()
		} else {
			deps.Redis = client
		}
	}

	return deps, nil
}

// OpenVectorStore builds the store selected by VECTOR_BACKEND without
// contacting it.
func OpenVectorStore(cfg *config.Config) (vector.Store, error) {
	switch cfg.Backend() {
	case config.BackendQdrant:
		s, err := qdrant.New(qdrant.Options{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client), nil
	case config.BackendSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", config.ErrInvalidValue, cfg.VectorBackend)
	}
}

// Close releases every connection Bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	closeQuietly(d.VectorStore)
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}

// WithRetry calls fn until it succeeds, attempts run out or ctx ends.
func WithRetry(ctx context.Context, name string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.WarnContext(ctx, "dependency not ready, retrying...", "dependency", name, "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// createTopics pre-creates the ingest topic through the nsqd HTTP API so
// lookupd-connected consumers find it before the first publish.
func createTopics(ctx context.Context, nsqdHTTP string) {
	if nsqdHTTP == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, url, nil)
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			return
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		slog.Info("NSQ topic ensured", "topic", topic, "status", resp.StatusCode)
	}

	go create(config.TopicIngestQuestions)
}
