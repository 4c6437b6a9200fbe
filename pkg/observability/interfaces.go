// Package observability provides unified logging and metrics for the
// castmesh engine. Every component receives a Logger and a MetricsClient
// at construction time; nothing logs through package-level globals.
package observability

import "time"

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger is the logging interface used across all packages
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})
	WithPrefix(prefix string) Logger
}

// MetricsClient is the metrics interface used across all packages.
// The default implementation keeps series in process and renders them in
// Prometheus text exposition format for the /metrics endpoint.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordTimer(name string, duration time.Duration, labels map[string]string)
	RecordCacheOperation(operation string, hit bool, durationSeconds float64)
	RecordAPIOperation(api string, operation string, success bool, durationSeconds float64)
	StartTimer(name string, labels map[string]string) func()
	Close() error
}
