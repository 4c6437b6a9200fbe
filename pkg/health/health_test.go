package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

func newChecker() *Checker {
	return NewChecker(observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func TestAggregateSeverity(t *testing.T) {
	c := newChecker()
	c.SetCacheDuration(0)
	c.Register("a", func(context.Context) (Status, string) { return StatusHealthy, "" })
	c.Register("b", func(context.Context) (Status, string) { return StatusHealthy, "" })

	report := c.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)

	c.Register("b", func(context.Context) (Status, string) { return StatusDegraded, "slow" })
	assert.Equal(t, StatusDegraded, c.Report(context.Background()).Status)

	c.Register("a", func(context.Context) (Status, string) { return StatusUnhealthy, "down" })
	report = c.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)

	// results come back sorted by name
	assert.Equal(t, "a", report.Checks[0].Name)
	assert.Equal(t, "b", report.Checks[1].Name)
}

func TestReadinessAndLiveness(t *testing.T) {
	c := newChecker()
	c.SetCacheDuration(0)
	ctx := context.Background()

	c.Register("dep", func(context.Context) (Status, string) { return StatusDegraded, "" })
	assert.True(t, c.Ready(ctx))
	assert.True(t, c.Alive(ctx))

	c.Register("dep", func(context.Context) (Status, string) { return StatusUnhealthy, "" })
	assert.False(t, c.Ready(ctx))
	assert.False(t, c.Alive(ctx))
}

func TestReportCaching(t *testing.T) {
	c := newChecker()
	c.SetCacheDuration(time.Hour)

	calls := 0
	c.Register("counted", func(context.Context) (Status, string) {
		calls++
		return StatusHealthy, ""
	})

	ctx := context.Background()
	c.Report(ctx)
	c.Report(ctx)
	c.Report(ctx)
	assert.Equal(t, 1, calls)
}

func TestCheckTimeout(t *testing.T) {
	c := newChecker()
	c.SetCacheDuration(0)
	c.checkTimeout = 20 * time.Millisecond
	c.Register("stuck", func(ctx context.Context) (Status, string) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return StatusHealthy, ""
	})

	report := c.Report(context.Background())
	require.Len(t, report.Checks, 1)
	assert.Equal(t, StatusUnhealthy, report.Checks[0].Status)
	assert.Contains(t, report.Checks[0].Detail, "timed out")
}

func TestCacheCheck(t *testing.T) {
	store := cache.NewTTLStore()
	status, detail := CacheCheck(store)(context.Background())
	assert.Equal(t, StatusHealthy, status, detail)
}

func TestIndexCheck(t *testing.T) {
	index := vector.NewFlatIndex(8)
	status, detail := IndexCheck(index)(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Contains(t, detail, "0 vectors")
}

func TestEmbeddingCheck(t *testing.T) {
	provider := embedding.NewLocalProvider(16)
	svc := embedding.NewService(provider, nil, 8, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	status, _ := EmbeddingCheck(svc, time.Second)(context.Background())
	assert.Equal(t, StatusHealthy, status)
}

func TestPersistenceCheck(t *testing.T) {
	store := profiles.NewMemoryStore()
	status, detail := PersistenceCheck(store)(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Contains(t, detail, "0 profiles")
}

func TestResourceCheckDegrades(t *testing.T) {
	status, _ := ResourceCheck(0, 0)(context.Background())
	assert.Equal(t, StatusHealthy, status)

	// one byte of allowed heap is always exceeded
	status, detail := ResourceCheck(1, 0)(context.Background())
	assert.Equal(t, StatusDegraded, status)
	assert.Contains(t, detail, "heap")

	status, _ = ResourceCheck(0, 1)(context.Background())
	assert.Equal(t, StatusDegraded, status)
}
