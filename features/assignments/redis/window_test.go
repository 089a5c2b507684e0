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

func getWindow(t *testing.T) *Window {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	w, err := New(Options{Client: testRedisClient, Prefix: "test:assignments"})
	require.NoError(t, err)
	return w
}

func TestRecordAndRecentCount(t *testing.T) {
	w := getWindow(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Record(ctx, "a"))
	}
	require.NoError(t, w.Record(ctx, "b"))

	n, err := w.RecentCount(ctx, "a", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = w.RecentCount(ctx, "b", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.RecentCount(ctx, "unseen", 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecentCountPrunesAgedEntries(t *testing.T) {
	w := getWindow(t)
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, "a"))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, w.Record(ctx, "a"))

	// Only the second selection falls within the narrow window.
	n, err := w.RecentCount(ctx, "a", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSimultaneousSelectionsAllCount(t *testing.T) {
	w := getWindow(t)
	ctx := context.Background()

	// Burst recordings must not collapse into a single sorted-set member.
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Record(ctx, "a"))
	}
	n, err := w.RecentCount(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestWindowPing(t *testing.T) {
	w := getWindow(t)
	assert.Equal(t, "assignments-redis", w.Name())
	assert.NoError(t, w.Ping(context.Background()))
}
