package embedding

import (
	"context"
	"time"

	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/observability"
)

// Service fronts a Provider with the embedding cache view, provider batch
// splitting and output normalisation. All vectors leaving the service are
// unit L2 norm.
type Service struct {
	provider  Provider
	cache     *cache.EmbeddingCache
	batchSize int
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewService wires a provider to the cache. cacheView may be nil, in which
// case every call reaches the provider.
func NewService(provider Provider, cacheView *cache.EmbeddingCache, batchSize int, logger observability.Logger, metrics observability.MetricsClient) *Service {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Service{
		provider:  provider,
		cache:     cacheView,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *Service) Dimensions() int { return s.provider.Dimensions() }

// Embed returns the unit-norm vector for text, from cache when possible
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one unit-norm vector per text, in input order.
// Cached entries are served without touching the provider; the remainder
// goes out in provider-sized chunks.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	start := time.Now()

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	if s.cache != nil {
		cached, err := s.cache.GetBatch(ctx, texts)
		if err != nil {
			s.logger.Warn("embedding cache read failed", map[string]interface{}{"error": err.Error()})
			cached = map[string][]float32{}
		}
		for i, t := range texts {
			if vec, ok := cached[t]; ok && len(vec) == s.provider.Dimensions() {
				out[i] = vec
			} else {
				missing = append(missing, t)
				missingIdx = append(missingIdx, i)
			}
		}
		s.metrics.IncrementCounterWithLabels("embedding_requests_total", float64(len(texts)-len(missing)), map[string]string{"source": "cache"})
	} else {
		missing = texts
		missingIdx = make([]int, len(texts))
		for i := range texts {
			missingIdx[i] = i
		}
	}

	for lo := 0; lo < len(missing); lo += s.batchSize {
		hi := lo + s.batchSize
		if hi > len(missing) {
			hi = len(missing)
		}
		chunk := missing[lo:hi]

		vecs, err := s.provider.EmbedBatch(ctx, chunk)
		if err != nil {
			return nil, err
		}
		fresh := make(map[string][]float32, len(chunk))
		for j, vec := range vecs {
			Normalize(vec)
			out[missingIdx[lo+j]] = vec
			fresh[chunk[j]] = vec
		}
		if s.cache != nil {
			if err := s.cache.SetBatch(ctx, fresh); err != nil {
				s.logger.Warn("embedding cache write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if len(missing) > 0 {
		s.metrics.IncrementCounterWithLabels("embedding_requests_total", float64(len(missing)), map[string]string{"source": "provider"})
	}
	s.metrics.RecordHistogram("embedding_batch_seconds", time.Since(start).Seconds(), map[string]string{})
	return out, nil
}
