package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/castmesh/castmesh/pkg/models"
)

// ViewTTLs carries the per-view expiry policy
type ViewTTLs struct {
	Embedding     time.Duration
	ModelResponse time.Duration
	Conversation  time.Duration
	VectorSearch  time.Duration
}

// EmbeddingCache stores embedding vectors keyed by the normalised input
// text. Vectors are packed as little-endian float32 to stay compact.
type EmbeddingCache struct {
	store Store
	ttl   time.Duration
}

func NewEmbeddingCache(store Store, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{store: store, ttl: ttl}
}

func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, error) {
	data, err := c.store.Get(ctx, Key(ViewEmbedding, text))
	if err != nil {
		return nil, err
	}
	return decodeVector(data)
}

func (c *EmbeddingCache) Set(ctx context.Context, text string, vector []float32) error {
	return c.store.Set(ctx, Key(ViewEmbedding, text), encodeVector(vector), c.ttl)
}

// GetBatch returns the cached vectors for the given texts, keyed by the
// original text. Missing entries are simply absent from the result.
func (c *EmbeddingCache) GetBatch(ctx context.Context, texts []string) (map[string][]float32, error) {
	keys := make([]string, len(texts))
	byKey := make(map[string]string, len(texts))
	for i, t := range texts {
		k := Key(ViewEmbedding, t)
		keys[i] = k
		byKey[k] = t
	}

	raw, err := c.store.GetBatch(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(raw))
	for k, data := range raw {
		vec, err := decodeVector(data)
		if err != nil {
			continue
		}
		out[byKey[k]] = vec
	}
	return out, nil
}

func (c *EmbeddingCache) SetBatch(ctx context.Context, vectors map[string][]float32) error {
	items := make(map[string][]byte, len(vectors))
	for text, vec := range vectors {
		items[Key(ViewEmbedding, text)] = encodeVector(vec)
	}
	return c.store.SetBatch(ctx, items, c.ttl)
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector payload too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+4*n {
		return nil, fmt.Errorf("vector payload length mismatch: want %d floats, have %d bytes", n, len(data)-4)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, nil
}

// ModelResponseCache stores completion provider responses keyed by the
// rendered prompt
type ModelResponseCache struct {
	store Store
	ttl   time.Duration
}

func NewModelResponseCache(store Store, ttl time.Duration) *ModelResponseCache {
	return &ModelResponseCache{store: store, ttl: ttl}
}

func (c *ModelResponseCache) Get(ctx context.Context, prompt string) (string, error) {
	data, err := c.store.Get(ctx, Key(ViewModelResponse, prompt))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *ModelResponseCache) Set(ctx context.Context, prompt, response string) error {
	return c.store.Set(ctx, Key(ViewModelResponse, prompt), []byte(response), c.ttl)
}

// ConversationCache stores recent turns per session for fast context
// rebuilds between requests
type ConversationCache struct {
	store Store
	ttl   time.Duration
}

func NewConversationCache(store Store, ttl time.Duration) *ConversationCache {
	return &ConversationCache{store: store, ttl: ttl}
}

func (c *ConversationCache) Get(ctx context.Context, sessionID string) ([]models.Turn, error) {
	data, err := c.store.Get(ctx, Key(ViewConversation, sessionID))
	if err != nil {
		return nil, err
	}
	var turns []models.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("corrupt conversation entry: %w", err)
	}
	return turns, nil
}

func (c *ConversationCache) Set(ctx context.Context, sessionID string, turns []models.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(ViewConversation, sessionID), data, c.ttl)
}

func (c *ConversationCache) Delete(ctx context.Context, sessionID string) error {
	return c.store.Delete(ctx, Key(ViewConversation, sessionID))
}

// VectorSearchCache stores serialised search results keyed by the query
// plus its filter fingerprint. The value type is owned by the caller; this
// view only handles keys and TTL.
type VectorSearchCache struct {
	store Store
	ttl   time.Duration
}

func NewVectorSearchCache(store Store, ttl time.Duration) *VectorSearchCache {
	return &VectorSearchCache{store: store, ttl: ttl}
}

// SearchKey fingerprints a query and its filters into a single cache input
func SearchKey(query string, filters map[string]interface{}, limit int) string {
	fp, _ := json.Marshal(filters)
	return fmt.Sprintf("%s|%s|%d", query, fp, limit)
}

func (c *VectorSearchCache) Get(ctx context.Context, searchKey string, out interface{}) error {
	data, err := c.store.Get(ctx, Key(ViewVectorSearch, searchKey))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *VectorSearchCache) Set(ctx context.Context, searchKey string, results interface{}) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, Key(ViewVectorSearch, searchKey), data, c.ttl)
}

// InvalidateAll drops every cached search result. Called after index
// mutations so stale rankings never outlive a profile update.
func (c *VectorSearchCache) InvalidateAll(ctx context.Context) error {
	return c.store.Invalidate(ctx, ViewVectorSearch+":*")
}
