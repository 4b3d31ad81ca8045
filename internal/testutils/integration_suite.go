package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hasan-murad02/rag/internal/config"
)

const (
	dbName = "rag_test"
	dbUser = "test"
	dbPass = "test"
)

// IntegrationSuite starts Postgres (migrated) and nsqd in containers.
// Qdrant and Redis are started on demand.
type IntegrationSuite struct {
	T   *testing.T
	DB  *sql.DB
	NSQ *nsq.Producer

	NSQDAddr     string
	NSQDHTTPAddr string
	QdrantHost   string
	QdrantPort   int
	RedisAddr    string

	dbHost string
	dbPort int

	pgContainer *postgres.PostgresContainer
	containers  []testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.dbPort = pgPort.Int()

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. NSQ
	nsqC := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	})
	s.NSQDAddr = s.endpoint(ctx, nsqC, "4150")
	s.NSQDHTTPAddr = s.endpoint(ctx, nsqC, "4151")

	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// StartQdrant runs a Qdrant container and records its gRPC endpoint.
func (s *IntegrationSuite) StartQdrant() {
	ctx := context.Background()
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.12.4",
		ExposedPorts: []string{"6333/tcp", "6334/tcp"},
		WaitingFor:   wait.ForHTTP("/readyz").WithPort("6333/tcp").WithStartupTimeout(60 * time.Second),
	})

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "6334")
	require.NoError(s.T, err)
	s.QdrantHost = host
	s.QdrantPort = port.Int()
}

func (s *IntegrationSuite) StartRedis() {
	ctx := context.Background()
	c := s.start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	s.RedisAddr = s.endpoint(ctx, c, "6379")
}

// GetAppConfig returns a valid configuration pointing at the suite's
// containers. The vector backend is Qdrant when it was started, otherwise
// an SQLite file in a temp dir.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	cfg := &config.Config{
		DBHost: s.dbHost,
		DBPort: s.dbPort,
		DBUser: dbUser,
		DBPass: dbPass,
		DBName: dbName,

		VectorBackend:  config.BackendSQLite,
		SQLitePath:     filepath.Join(s.T.TempDir(), "vectors.db"),
		CollectionName: "test_questions",
		WeaviateScheme: "http",

		GeminiEmbeddingModel: "gemini-embedding-001",
		EmbedBurst:           1,
		RedisAddr:            s.RedisAddr,
		EmbedCacheTTLHours:   1,

		SimilarityThreshold: 0.75,
		SearchLimit:         10,
		IngestBatchSize:     100,
		MaxBatchSize:        1000,
		QuestionIDField:     "_id",

		MigrationPath: MigrationPath(),

		NSQDHost:          s.NSQDAddr,
		NSQDHTTP:          s.NSQDHTTPAddr,
		IngestMaxAttempts: 3,

		ServerPort:   freePort(s.T),
		QueryLogPath: filepath.Join(s.T.TempDir(), "query.log"),
		LogLevel:     "debug",

		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.QdrantHost != "" {
		cfg.VectorBackend = config.BackendQdrant
		cfg.QdrantHost = s.QdrantHost
		cfg.QdrantPort = s.QdrantPort
	}
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	for _, c := range s.containers {
		c.Terminate(ctx)
	}
}

func (s *IntegrationSuite) start(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.containers = append(s.containers, c)
	return c
}

func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port string) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(s.T, err)
	return host + ":" + mapped.Port()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}
