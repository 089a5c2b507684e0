package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/care/runtime/routing"
)

func okProber() Prober {
	return ProberFunc(func(context.Context, string) error { return nil })
}

func failProber(msg string) Prober {
	return ProberFunc(func(context.Context, string) error { return errors.New(msg) })
}

func hangProber() Prober {
	return ProberFunc(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func newTestRunner(t *testing.T, probers map[routing.DependencyType]Prober, opts Options) *Runner {
	t.Helper()
	opts.Probers = probers
	if opts.Timeout == 0 {
		opts.Timeout = 50 * time.Millisecond
	}
	return NewRunner(opts)
}

func TestRunAllAvailable(t *testing.T) {
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: okProber(),
		routing.DependencyRedis:    okProber(),
	}, Options{})

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyDatabase, Target: "db:5432"},
		{Type: routing.DependencyRedis, Target: "cache:6379"},
	})

	require.Len(t, report.Results, 2)
	assert.False(t, report.Eliminated())
	assert.False(t, report.Degraded())
	for _, res := range report.Results {
		assert.True(t, res.Available)
		assert.False(t, res.CachedUntil.IsZero())
	}
}

func TestRunClassifiesFailuresByHardness(t *testing.T) {
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: failProber("connection refused"),
		routing.DependencyRedis:    failProber("connection refused"),
		routing.DependencyDNS:      okProber(),
	}, Options{})

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyDatabase, Target: "db:5432"},
		{Type: routing.DependencyRedis, Target: "cache:6379"},
		{Type: routing.DependencyDNS, Target: "example.com"},
	})

	require.Len(t, report.HardFailures, 1)
	assert.Equal(t, routing.DependencyDatabase, report.HardFailures[0].Type)
	require.Len(t, report.SoftFailures, 1)
	assert.Equal(t, routing.DependencyRedis, report.SoftFailures[0].Type)
	assert.True(t, report.Eliminated())
	assert.True(t, report.Degraded())
}

func TestRunHonorsDeclaredHardnessOverride(t *testing.T) {
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyRedis: failProber("down"),
	}, Options{})

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyRedis, Target: "cache:6379", Hardness: routing.HardnessHard},
	})

	require.Len(t, report.HardFailures, 1)
	assert.Empty(t, report.SoftFailures)
}

func TestTimeoutFailsClosedForHardOpenForSoft(t *testing.T) {
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: hangProber(),
		routing.DependencyHTTP:     hangProber(),
	}, Options{Timeout: 20 * time.Millisecond})

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyDatabase, Target: "db:5432"},
		{Type: routing.DependencyHTTP, Target: "https://svc.internal"},
	})

	require.Len(t, report.HardFailures, 1)
	assert.Equal(t, "probe timeout", report.HardFailures[0].Reason)
	require.Len(t, report.SoftFailures, 1)
	assert.Equal(t, "probe timeout (degraded)", report.SoftFailures[0].Reason)
}

func TestRunServesCachedResults(t *testing.T) {
	var calls atomic.Int64
	counting := ProberFunc(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: counting,
	}, Options{})

	deps := []routing.Dependency{{Type: routing.DependencyDatabase, Target: "db:5432"}}
	first := r.Run(context.Background(), deps)
	second := r.Run(context.Background(), deps)

	assert.Equal(t, int64(1), calls.Load())
	assert.False(t, first.Results[0].Cached)
	assert.True(t, second.Results[0].Cached)
	assert.True(t, second.Results[0].Available)
}

func TestCacheSharedAcrossCandidatesByKey(t *testing.T) {
	var calls atomic.Int64
	counting := ProberFunc(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: counting,
	}, Options{})

	// Same target probed for two different candidates hits the cache once.
	r.Run(context.Background(), []routing.Dependency{{Type: routing.DependencyDatabase, Target: "db:5432"}})
	r.Run(context.Background(), []routing.Dependency{{Type: routing.DependencyDatabase, Target: "db:5432"}})
	r.Run(context.Background(), []routing.Dependency{{Type: routing.DependencyDatabase, Target: "other:5432"}})

	assert.Equal(t, int64(2), calls.Load())
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (Result, bool, error) {
	return Result{}, false, errors.New("cache store down")
}

func (failingCache) Set(context.Context, string, Result, time.Duration) error {
	return errors.New("cache store down")
}

func TestCacheFailuresFailOpen(t *testing.T) {
	r := newTestRunner(t, map[routing.DependencyType]Prober{
		routing.DependencyDatabase: okProber(),
	}, Options{Cache: failingCache{}})

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyDatabase, Target: "db:5432"},
	})

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Available)
}

func TestUnknownProberTypeUnavailable(t *testing.T) {
	r := NewRunner(Options{Probers: map[routing.DependencyType]Prober{}})
	// Wipe the default prober to simulate an unconfigured type.
	delete(r.probers, routing.DependencyAgent)

	report := r.Run(context.Background(), []routing.Dependency{
		{Type: routing.DependencyAgent, Target: "peer-1"},
	})

	require.Len(t, report.SoftFailures, 1)
	assert.Contains(t, report.SoftFailures[0].Reason, "no prober")
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	res := Result{Type: routing.DependencyRedis, Target: "cache:6379", Available: true}

	require.NoError(t, cache.Set(ctx, "redis:cache:6379", res, 30*time.Millisecond))

	got, ok, err := cache.Get(ctx, "redis:cache:6379")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Available)

	time.Sleep(50 * time.Millisecond)
	_, ok, err = cache.Get(ctx, "redis:cache:6379")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "database:db:5432", Key(routing.DependencyDatabase, "db:5432"))
}
