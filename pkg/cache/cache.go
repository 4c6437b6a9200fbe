// Package cache implements the engine's two-tier cache: a process-local
// tier (LRU or TTL-map) in front of Redis. Values above a size threshold
// are gzip-compressed; keys are a short view prefix plus the SHA-256 of the
// normalised input.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("cache: key not found")

// Store is the byte-level contract every tier implements
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)
	SetBatch(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Invalidate(ctx context.Context, pattern string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Stats describes cache effectiveness since process start
type Stats struct {
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	LocalHits  int64          `json:"local_hits"`
	RemoteHits int64          `json:"remote_hits"`
	ViewSizes  map[string]int `json:"view_sizes"`
}

// HitRate returns hits / (hits + misses), or 0 with no traffic
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
