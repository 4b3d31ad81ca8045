package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendQdrant   = "qdrant"
	BackendWeaviate = "weaviate"
	BackendSQLite   = "sqlite"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"rag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"rag"`

	// Vector store
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	QdrantHost     string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort     int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS   bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	CollectionName string `envconfig:"QDRANT_COLLECTION_NAME" default:"premed_questions"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"data/vectors.db"`

	// Embeddings
	GeminiAPIKey         string  `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel string  `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbedRatePerSecond   float64 `envconfig:"EMBED_RATE_PER_SECOND" default:"0"`
	EmbedBurst           int     `envconfig:"EMBED_BURST" default:"1"`
	RedisAddr            string  `envconfig:"REDIS_ADDR"`
	RedisPassword        string  `envconfig:"REDIS_PASSWORD"`
	EmbedCacheTTLHours   int     `envconfig:"EMBED_CACHE_TTL_HOURS" default:"168"`

	// Search and ingestion defaults
	SimilarityThreshold float32 `envconfig:"SIMILARITY_THRESHOLD" default:"0.75"`
	SearchLimit         int     `envconfig:"SEARCH_LIMIT" default:"10"`
	IngestBatchSize     int     `envconfig:"INGEST_BATCH_SIZE" default:"100"`
	MaxBatchSize        int     `envconfig:"MAX_BATCH_SIZE" default:"1000"`

	// Question schema
	QuestionTextFields    []string `envconfig:"QUESTION_TEXT_FIELDS" default:"QuestionText,question,Question"`
	QuestionContextFields []string `envconfig:"QUESTION_CONTEXT_FIELDS" default:"Context,context,Passage,passage"`
	QuestionIDField       string   `envconfig:"QUESTION_ID_FIELD" default:"_id"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Async ingestion
	NSQLookupd         string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost           string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP           string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"false"`
	IngestMaxAttempts  uint16 `envconfig:"INGEST_MAX_ATTEMPTS" default:"3"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8000"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Missing .env files are fine; the shell may provide everything.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: QDRANT_COLLECTION_NAME", ErrMissingRequired)
	}

	switch strings.ToLower(c.VectorBackend) {
	case BackendQdrant, BackendWeaviate, BackendSQLite:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND must be one of qdrant, weaviate, sqlite, got %q", ErrInvalidValue, c.VectorBackend)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be within [0, 1]", ErrInvalidValue)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("%w: SEARCH_LIMIT must be positive", ErrInvalidValue)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: MAX_BATCH_SIZE must be positive", ErrInvalidValue)
	}
	if c.IngestBatchSize <= 0 || c.IngestBatchSize > c.MaxBatchSize {
		return fmt.Errorf("%w: INGEST_BATCH_SIZE must be within [1, %d]", ErrInvalidValue, c.MaxBatchSize)
	}
	return nil
}

func (c *Config) Backend() string {
	return strings.ToLower(c.VectorBackend)
}

func (c *Config) EmbedCacheTTL() time.Duration {
	return time.Duration(c.EmbedCacheTTLHours) * time.Hour
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
