package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cascadehq/care/runtime/probe"
	"github.com/cascadehq/care/runtime/routing"
)

var (
	testRedisClient    *goredis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		port, perr := testRedisContainer.MappedPort(ctx, "6379")
		if err != nil || perr != nil {
			fmt.Printf("Failed to resolve container address: %v %v\n", err, perr)
			skipIntegration = true
		} else {
			testRedisClient = goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
			if err := testRedisClient.Ping(ctx).Err(); err != nil {
				fmt.Printf("Failed to ping redis: %v\n", err)
				skipIntegration = true
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func getCache(t *testing.T) *Cache {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	c, err := New(Options{Client: testRedisClient, Prefix: "test:probe"})
	require.NoError(t, err)
	return c
}

func TestSetAndGet(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()

	res := probe.Result{
		Type:        routing.DependencyDatabase,
		Target:      "db:5432",
		Available:   true,
		CachedUntil: time.Now().Add(time.Minute).UTC(),
	}
	require.NoError(t, c.Set(ctx, "database:db:5432", res, time.Minute))

	got, ok, err := c.Get(ctx, "database:db:5432")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Available)
	assert.Equal(t, routing.DependencyDatabase, got.Type)
}

func TestGetMissesUnknownKey(t *testing.T) {
	c := getCache(t)
	_, ok, err := c.Get(context.Background(), "database:absent:5432")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleEntryIsNotServed(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()

	// Redis TTL outlives the entry's own freshness stamp; the stamp wins.
	res := probe.Result{
		Type:        routing.DependencyRedis,
		Target:      "cache:6379",
		Available:   true,
		CachedUntil: time.Now().Add(20 * time.Millisecond).UTC(),
	}
	require.NoError(t, c.Set(ctx, "redis:cache:6379", res, time.Minute))

	time.Sleep(40 * time.Millisecond)
	_, ok, err := c.Get(ctx, "redis:cache:6379")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntryExpiresWithTTL(t *testing.T) {
	c := getCache(t)
	ctx := context.Background()

	res := probe.Result{Type: routing.DependencyHTTP, Target: "https://svc", Available: false, Reason: "connection refused"}
	require.NoError(t, c.Set(ctx, "http:https://svc", res, 50*time.Millisecond))

	time.Sleep(80 * time.Millisecond)
	_, ok, err := c.Get(ctx, "http:https://svc")
	require.NoError(t, err)
	assert.False(t, ok)
}
