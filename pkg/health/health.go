// Package health runs named dependency checks, caches their results and
// aggregates them into the overall service status served by /health,
// /ready and /live.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

// Status is one of healthy, degraded or unhealthy
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses for aggregation
func severity(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check probes one dependency. Implementations must respect ctx and
// return quickly; the checker enforces a timeout on top.
type Check func(ctx context.Context) (Status, string)

// Result is one completed check
type Result struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the aggregate served on /health
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Result  `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

const (
	defaultCheckTimeout  = 5 * time.Second
	defaultCacheDuration = 15 * time.Second
)

// Checker runs registered checks in parallel and caches the aggregate
// for a short window so health endpoints stay cheap under polling.
type Checker struct {
	checkTimeout  time.Duration
	cacheDuration time.Duration
	logger        observability.Logger
	metrics       observability.MetricsClient

	mu        sync.RWMutex
	checks    map[string]Check
	lastValid time.Time
	last      *Report
}

func NewChecker(logger observability.Logger, metrics observability.MetricsClient) *Checker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Checker{
		checkTimeout:  defaultCheckTimeout,
		cacheDuration: defaultCacheDuration,
		logger:        logger,
		metrics:       metrics,
		checks:        make(map[string]Check),
	}
}

// Register adds or replaces a named check
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetCacheDuration adjusts how long an aggregate report is reused
func (c *Checker) SetCacheDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheDuration = d
}

// Report returns the current aggregate, reusing a cached one when fresh
func (c *Checker) Report(ctx context.Context) *Report {
	c.mu.RLock()
	if c.last != nil && time.Now().Before(c.lastValid) {
		cached := *c.last
		c.mu.RUnlock()
		return &cached
	}
	c.mu.RUnlock()
	return c.refresh(ctx)
}

// Ready reports whether the service should receive traffic
func (c *Checker) Ready(ctx context.Context) bool {
	return c.Report(ctx).Status != StatusUnhealthy
}

// Alive reports whether the process should be restarted
func (c *Checker) Alive(ctx context.Context) bool {
	return c.Report(ctx).Status != StatusUnhealthy
}

// Run refreshes the report in the background until ctx is cancelled
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Checker) refresh(ctx context.Context) *Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make([]Check, 0, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	timeout := c.checkTimeout
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.runOne(ctx, names[i], checks[i], timeout)
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overall := StatusHealthy
	for _, r := range results {
		if severity(r.Status) > severity(overall) {
			overall = r.Status
		}
	}
	report := &Report{Status: overall, Checks: results, CheckedAt: time.Now()}

	if overall != StatusHealthy {
		c.logger.Warn("health degraded", map[string]interface{}{"status": string(overall)})
	}
	c.metrics.RecordGauge("health_status", float64(severity(overall)), nil)

	c.mu.Lock()
	c.last = report
	c.lastValid = time.Now().Add(c.cacheDuration)
	c.mu.Unlock()

	snapshot := *report
	return &snapshot
}

func (c *Checker) runOne(ctx context.Context, name string, check Check, timeout time.Duration) Result {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		status, detail := check(cctx)
		done <- Result{Name: name, Status: status, Detail: detail}
	}()

	var result Result
	select {
	case result = <-done:
	case <-cctx.Done():
		result = Result{Name: name, Status: StatusUnhealthy, Detail: "check timed out"}
	}
	result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	result.CheckedAt = time.Now()
	return result
}

// CacheCheck probes the cache store with a write/read/delete cycle
func CacheCheck(store cache.Store) Check {
	return func(ctx context.Context) (Status, string) {
		key := "health:probe"
		if err := store.Set(ctx, key, []byte("ok"), time.Minute); err != nil {
			return StatusUnhealthy, fmt.Sprintf("cache write failed: %v", err)
		}
		if _, err := store.Get(ctx, key); err != nil {
			return StatusUnhealthy, fmt.Sprintf("cache read failed: %v", err)
		}
		_ = store.Delete(ctx, key)
		return StatusHealthy, ""
	}
}

// IndexCheck verifies the vector index answers size queries
func IndexCheck(index vector.Index) Check {
	return func(ctx context.Context) (Status, string) {
		n, err := index.Len(ctx)
		if err != nil {
			return StatusUnhealthy, fmt.Sprintf("index unreachable: %v", err)
		}
		return StatusHealthy, fmt.Sprintf("%d vectors", n)
	}
}

// EmbeddingCheck runs a round-trip embed and degrades when it is slow
func EmbeddingCheck(svc *embedding.Service, slowAfter time.Duration) Check {
	if slowAfter <= 0 {
		slowAfter = 2 * time.Second
	}
	return func(ctx context.Context) (Status, string) {
		start := time.Now()
		if _, err := svc.Embed(ctx, "health probe"); err != nil {
			return StatusUnhealthy, fmt.Sprintf("embedding failed: %v", err)
		}
		if elapsed := time.Since(start); elapsed > slowAfter {
			return StatusDegraded, fmt.Sprintf("slow round trip: %s", elapsed)
		}
		return StatusHealthy, ""
	}
}

// PersistenceCheck verifies the profile store answers count queries
func PersistenceCheck(store profiles.Store) Check {
	return func(ctx context.Context) (Status, string) {
		n, err := store.Count(ctx, profiles.ListOptions{})
		if err != nil {
			return StatusUnhealthy, fmt.Sprintf("profile store unreachable: %v", err)
		}
		return StatusHealthy, fmt.Sprintf("%d profiles", n)
	}
}

// ResourceCheck degrades when heap usage or goroutine count cross the
// given ceilings. Zero ceilings disable that dimension.
func ResourceCheck(maxHeapBytes uint64, maxGoroutines int) Check {
	return func(ctx context.Context) (Status, string) {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		goroutines := runtime.NumGoroutine()

		if maxHeapBytes > 0 && stats.HeapAlloc > maxHeapBytes {
			return StatusDegraded, fmt.Sprintf("heap %d bytes over ceiling %d", stats.HeapAlloc, maxHeapBytes)
		}
		if maxGoroutines > 0 && goroutines > maxGoroutines {
			return StatusDegraded, fmt.Sprintf("%d goroutines over ceiling %d", goroutines, maxGoroutines)
		}
		return StatusHealthy, fmt.Sprintf("heap %d bytes, %d goroutines", stats.HeapAlloc, goroutines)
	}
}
