package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/castmesh/castmesh/pkg/observability"
)

// TieredCache reads the local tier first and falls back to the remote tier,
// backfilling the local tier on a remote hit. The remote tier is optional:
// with no Redis configured the cache degrades to single-tier operation.
// Values are compressed before they reach either tier.
type TieredCache struct {
	local      Store
	remote     Store
	compressor *Compressor
	logger     observability.Logger
	metrics    observability.MetricsClient

	hits       atomic.Int64
	misses     atomic.Int64
	localHits  atomic.Int64
	remoteHits atomic.Int64
}

// ttlReader reports a key's remaining lifetime; the Redis tier implements it
type ttlReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// backfilled entries fall back to this lifetime when the remote tier
// cannot report a remaining TTL
const defaultBackfillTTL = 5 * time.Minute

// NewTieredCache composes the two tiers. remote may be nil.
func NewTieredCache(local, remote Store, compressor *Compressor, logger observability.Logger, metrics observability.MetricsClient) *TieredCache {
	if compressor == nil {
		compressor = NewCompressor(1024)
	}
	return &TieredCache{
		local:      local,
		remote:     remote,
		compressor: compressor,
		logger:     logger,
		metrics:    metrics,
	}
}

func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	if data, err := c.local.Get(ctx, key); err == nil {
		c.hits.Add(1)
		c.localHits.Add(1)
		c.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
		return c.compressor.Decompress(data)
	}

	if c.remote != nil {
		data, err := c.remote.Get(ctx, key)
		if err == nil {
			c.hits.Add(1)
			c.remoteHits.Add(1)
			// backfill tier 1 with the remote's remaining lifetime so the
			// local copy cannot outlive the TTL the writer set
			if setErr := c.local.Set(ctx, key, data, c.backfillTTL(ctx, key)); setErr != nil {
				c.logger.Warn("failed to backfill local tier", map[string]interface{}{
					"key":   key,
					"error": setErr.Error(),
				})
			}
			c.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
			return c.compressor.Decompress(data)
		}
		if err != ErrNotFound {
			c.logger.Warn("remote cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	c.misses.Add(1)
	c.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
	return nil, ErrNotFound
}

func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := c.compressor.Compress(value)
	if err != nil {
		c.logger.Warn("compression failed, storing raw", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		data = value
	}

	if err := c.local.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, data, ttl); err != nil {
			// local tier already holds the value; remote failure degrades, not fails
			c.logger.Warn("remote cache write failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	return nil
}

func (c *TieredCache) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	found, err := c.local.GetBatch(ctx, keys)
	if err != nil {
		found = map[string][]byte{}
	}
	c.localHits.Add(int64(len(found)))

	if c.remote != nil && len(found) < len(keys) {
		var missing []string
		for _, k := range keys {
			if _, ok := found[k]; !ok {
				missing = append(missing, k)
			}
		}
		remoteFound, err := c.remote.GetBatch(ctx, missing)
		if err != nil {
			c.logger.Warn("remote cache batch read failed", map[string]interface{}{
				"keys":  len(missing),
				"error": err.Error(),
			})
		} else {
			c.remoteHits.Add(int64(len(remoteFound)))
			for k, v := range remoteFound {
				found[k] = v
				if setErr := c.local.Set(ctx, k, v, c.backfillTTL(ctx, k)); setErr != nil {
					c.logger.Warn("failed to backfill local tier", map[string]interface{}{
						"key": k, "error": setErr.Error(),
					})
				}
			}
		}
	}

	c.hits.Add(int64(len(found)))
	c.misses.Add(int64(len(keys) - len(found)))

	out := make(map[string][]byte, len(found))
	for k, v := range found {
		plain, err := c.compressor.Decompress(v)
		if err != nil {
			c.logger.Warn("decompression failed, dropping entry", map[string]interface{}{
				"key": k, "error": err.Error(),
			})
			continue
		}
		out[k] = plain
	}
	return out, nil
}

func (c *TieredCache) SetBatch(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	compressed := make(map[string][]byte, len(items))
	for k, v := range items {
		data, err := c.compressor.Compress(v)
		if err != nil {
			data = v
		}
		compressed[k] = data
	}

	if err := c.local.SetBatch(ctx, compressed, ttl); err != nil {
		return err
	}
	if c.remote != nil {
		if err := c.remote.SetBatch(ctx, compressed, ttl); err != nil {
			c.logger.Warn("remote cache batch write failed", map[string]interface{}{
				"keys":  len(items),
				"error": err.Error(),
			})
		}
	}
	return nil
}

func (c *TieredCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Delete(ctx, key)
	}
	return nil
}

func (c *TieredCache) Invalidate(ctx context.Context, pattern string) error {
	if err := c.local.Invalidate(ctx, pattern); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Invalidate(ctx, pattern)
	}
	return nil
}

func (c *TieredCache) Len(ctx context.Context) (int, error) {
	return c.local.Len(ctx)
}

// backfillTTL asks the remote tier how long the key has left to live
func (c *TieredCache) backfillTTL(ctx context.Context, key string) time.Duration {
	if r, ok := c.remote.(ttlReader); ok {
		if ttl, err := r.TTL(ctx, key); err == nil && ttl > 0 {
			return ttl
		}
	}
	return defaultBackfillTTL
}

// Stats reports hit/miss counts and the tier split
func (c *TieredCache) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		LocalHits:  c.localHits.Load(),
		RemoteHits: c.remoteHits.Load(),
	}
}

func (c *TieredCache) Close() error {
	if err := c.local.Close(); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}
