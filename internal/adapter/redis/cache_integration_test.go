package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hasan-murad02/rag/internal/adapter/redis"
)

func TestEmbeddingCache_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer c.Terminate(ctx)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()

	cache := redis.NewEmbeddingCache(client, time.Minute)
	require.NoError(t, cache.Ping(ctx))

	require.NoError(t, cache.PutMany(ctx, map[string][]float32{"k1": {0.5, -1}}))

	got, err := cache.GetMany(ctx, []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{"k1": {0.5, -1}}, got)

	ttl, err := client.TTL(ctx, "k1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
