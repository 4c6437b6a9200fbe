package cache

import (
	"context"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LRUStore is a process-local Store with LRU eviction. Used for the
// vector-search view where recency of access matters more than age.
type LRUStore struct {
	inner *lru.Cache[string, localEntry]
}

// NewLRUStore creates an LRU store with the given capacity
func NewLRUStore(capacity int) (*LRUStore, error) {
	inner, err := lru.New[string, localEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUStore{inner: inner}, nil
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := s.inner.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(time.Now()) {
		s.inner.Remove(key)
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (s *LRUStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.inner.Add(key, entry)
	return nil
}

func (s *LRUStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, err := s.Get(ctx, k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (s *LRUStore) SetBatch(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := s.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.inner.Remove(key)
	return nil
}

func (s *LRUStore) Invalidate(_ context.Context, pattern string) error {
	for _, k := range s.inner.Keys() {
		if matched, _ := path.Match(pattern, k); matched {
			s.inner.Remove(k)
		}
	}
	return nil
}

func (s *LRUStore) Len(_ context.Context) (int, error) { return s.inner.Len(), nil }

func (s *LRUStore) Close() error {
	s.inner.Purge()
	return nil
}

// TTLStore is a process-local Store where entries live until their TTL
// expires. Used for embeddings, model responses and conversations.
type TTLStore struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	// sweep pass removes expired entries once writes accumulate
	writesSinceSweep int
}

// NewTTLStore creates an empty TTL store
func NewTTLStore() *TTLStore {
	return &TTLStore{entries: make(map[string]localEntry)}
}

func (s *TTLStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(time.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (s *TTLStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.writesSinceSweep++
	if s.writesSinceSweep >= 256 {
		s.sweepLocked(time.Now())
		s.writesSinceSweep = 0
	}
	s.mu.Unlock()
	return nil
}

func (s *TTLStore) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

func (s *TTLStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, err := s.Get(ctx, k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (s *TTLStore) SetBatch(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := s.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *TTLStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *TTLStore) Invalidate(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if matched, _ := path.Match(pattern, k); matched {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *TTLStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *TTLStore) Close() error {
	s.mu.Lock()
	s.entries = make(map[string]localEntry)
	s.mu.Unlock()
	return nil
}
