package observability

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// histogram bucket upper bounds in seconds, tuned for request latencies
var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type counterSeries struct {
	value float64
}

type gaugeSeries struct {
	value float64
}

type histogramSeries struct {
	buckets []uint64 // cumulative counts per defaultBuckets entry
	count   uint64
	sum     float64
}

// Registry is an in-process metrics store. It implements MetricsClient and
// renders its contents in Prometheus text exposition format.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*counterSeries
	gauges     map[string]*gaugeSeries
	histograms map[string]*histogramSeries
}

// NewMetricsClient creates a new registry-backed metrics client
func NewMetricsClient() *Registry {
	return &Registry{
		counters:   make(map[string]*counterSeries),
		gauges:     make(map[string]*gaugeSeries),
		histograms: make(map[string]*histogramSeries),
	}
}

// seriesKey builds a stable "name{k="v",...}" key from a metric name and labels
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// IncrementCounter increments a counter without labels
func (r *Registry) IncrementCounter(name string, value float64) {
	r.IncrementCounterWithLabels(name, value, nil)
}

// IncrementCounterWithLabels increments a labelled counter
func (r *Registry) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[key]
	if !ok {
		c = &counterSeries{}
		r.counters[key] = c
	}
	c.value += value
}

// RecordGauge sets a gauge to the given value
func (r *Registry) RecordGauge(name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[key]
	if !ok {
		g = &gaugeSeries{}
		r.gauges[key] = g
	}
	g.value = value
}

// RecordHistogram records an observation into a histogram
func (r *Registry) RecordHistogram(name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[key]
	if !ok {
		h = &histogramSeries{buckets: make([]uint64, len(defaultBuckets))}
		r.histograms[key] = h
	}
	for i, upper := range defaultBuckets {
		if value <= upper {
			h.buckets[i]++
		}
	}
	h.count++
	h.sum += value
}

// RecordTimer records a duration as a histogram in seconds
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	r.RecordHistogram(name+"_seconds", duration.Seconds(), labels)
}

// RecordCacheOperation records cache hit/miss counters and latency
func (r *Registry) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
	labels := map[string]string{"operation": operation, "hit": boolLabel(hit)}
	r.IncrementCounterWithLabels("cache_operations_total", 1, labels)
	r.RecordHistogram("cache_operation_duration_seconds", durationSeconds, labels)
}

// RecordAPIOperation records API operation counters and latency
func (r *Registry) RecordAPIOperation(api string, operation string, success bool, durationSeconds float64) {
	labels := map[string]string{"api": api, "operation": operation, "success": boolLabel(success)}
	r.IncrementCounterWithLabels("api_operations_total", 1, labels)
	r.RecordHistogram("api_operation_duration_seconds", durationSeconds, labels)
}

// StartTimer returns a func that records the elapsed time when invoked
func (r *Registry) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		r.RecordTimer(name, time.Since(start), labels)
	}
}

// Close releases the registry. The in-process registry has nothing to flush.
func (r *Registry) Close() error { return nil }

// CounterValue returns the current value of a counter series, for tests and
// internal health reporting
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.counters[seriesKey(name, labels)]; ok {
		return c.value
	}
	return 0
}

// Exposition renders every series in Prometheus text exposition format.
// Series are sorted by key so output is deterministic.
func (r *Registry) Exposition() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	for _, key := range sortedKeys(r.counters) {
		fmt.Fprintf(&b, "%s %s\n", key, formatValue(r.counters[key].value))
	}
	for _, key := range sortedKeys(r.gauges) {
		fmt.Fprintf(&b, "%s %s\n", key, formatValue(r.gauges[key].value))
	}
	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		name, labels := splitSeriesKey(key)
		for i, upper := range defaultBuckets {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", name, mergeLabel(labels, "le", formatValue(upper)), h.buckets[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", name, mergeLabel(labels, "le", "+Inf"), h.count)
		fmt.Fprintf(&b, "%s_sum%s %s\n", name, labels, formatValue(h.sum))
		fmt.Fprintf(&b, "%s_count%s %d\n", name, labels, h.count)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitSeriesKey(key string) (name, labels string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}

func mergeLabel(labels, k, v string) string {
	pair := fmt.Sprintf("%s=%q", k, v)
	if labels == "" {
		return "{" + pair + "}"
	}
	return labels[:len(labels)-1] + "," + pair + "}"
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// NoopMetricsClient discards all metrics
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that does nothing
func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

func (n *NoopMetricsClient) IncrementCounter(name string, value float64)            {}
func (n *NoopMetricsClient) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (n *NoopMetricsClient) RecordGauge(string, float64, map[string]string)         {}
func (n *NoopMetricsClient) RecordHistogram(string, float64, map[string]string)     {}
func (n *NoopMetricsClient) RecordTimer(string, time.Duration, map[string]string)   {}
func (n *NoopMetricsClient) RecordCacheOperation(string, bool, float64)             {}
func (n *NoopMetricsClient) RecordAPIOperation(string, string, bool, float64)       {}
func (n *NoopMetricsClient) StartTimer(string, map[string]string) func()            { return func() {} }
func (n *NoopMetricsClient) Close() error                                           { return nil }
