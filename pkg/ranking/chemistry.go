package ranking

import (
	"sync"
)

// ChemistryCache stores pairwise on-screen chemistry scores. The pair key
// is order-independent so chemistry(a,b) and chemistry(b,a) always agree.
type ChemistryCache struct {
	mu     sync.RWMutex
	scores map[[2]string]float64
}

// NewChemistryCache creates an empty cache
func NewChemistryCache() *ChemistryCache {
	return &ChemistryCache{scores: make(map[[2]string]float64)}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Get returns the stored score for the pair, or 0.5 when unknown
func (c *ChemistryCache) Get(a, b string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.scores[pairKey(a, b)]; ok {
		return s
	}
	return 0.5
}

// Set records a pairwise score, clamped to [0,1]
func (c *ChemistryCache) Set(a, b string, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	c.mu.Lock()
	c.scores[pairKey(a, b)] = score
	c.mu.Unlock()
}

// Mean returns the average chemistry of id with every member of cast,
// or 0.5 for an empty cast
func (c *ChemistryCache) Mean(id string, cast []string) float64 {
	if len(cast) == 0 {
		return 0.5
	}
	var sum float64
	for _, member := range cast {
		sum += c.Get(id, member)
	}
	return sum / float64(len(cast))
}
