package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
)

// decayRate is the Ebbinghaus forgetting-curve constant applied per
// stability-scaled hour
const decayRate = 0.5

// reviewIntervals is the recommended reconsolidation schedule, indexed
// by reinforcement count
var reviewIntervals = []time.Duration{
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
	21 * 24 * time.Hour,
	60 * 24 * time.Hour,
	180 * 24 * time.Hour,
}

// EpisodicMemory records a specific interaction or decision
type EpisodicMemory struct {
	ID            string                 `json:"id" db:"id"`
	Owner         string                 `json:"owner" db:"owner"`
	EventType     string                 `json:"event_type" db:"event_type"`
	Payload       map[string]interface{} `json:"payload" db:"-"`
	Importance    float64                `json:"importance" db:"importance"`
	Valence       float64                `json:"emotional_valence" db:"emotional_valence"`
	Reinforcement int                    `json:"reinforcement_count" db:"reinforcement_count"`
	LastAccessed  time.Time              `json:"last_accessed" db:"last_accessed"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	Embedding     []float32              `json:"-" db:"-"`
}

// contextRichness scores how much surrounding context a memory carries
func (m *EpisodicMemory) contextRichness() float64 {
	richness := float64(len(m.Payload)) / 5
	if len(m.Embedding) > 0 {
		richness += 0.2
	}
	return math.Min(richness, 1)
}

// Retention evaluates the forgetting curve at time now.
//
// The base curve is exp(-k·t/stability) where stability grows with
// reinforcement, importance, emotional intensity and context richness.
// Bounded multipliers reward primacy, heavy rehearsal, strong emotion,
// high importance and rich context. The result is clamped to [0,1].
func (m *EpisodicMemory) Retention(now time.Time) float64 {
	hours := now.Sub(m.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}

	emotion := math.Abs(m.Valence - 0.5)
	richness := m.contextRichness()

	stability := 1 + 0.5*float64(m.Reinforcement)*
		(1+0.3*m.Importance)*
		(1+0.4*emotion)*
		(1+0.15*richness)

	boost := 1.0
	if m.Reinforcement == 0 {
		boost *= 1.1
	}
	if m.Reinforcement > 5 {
		boost *= 1 + 0.05*math.Min(float64(m.Reinforcement-5), 10)
	}
	if emotion > 0.35 {
		boost *= 1.15
	}
	if m.Importance > 0.8 {
		boost *= 1.2
	}
	if richness > 0.7 {
		boost *= 1.1
	}

	retention := boost * math.Exp(-decayRate*hours/stability)
	return math.Max(0, math.Min(1, retention))
}

// NextReview returns when the memory should next be reconsolidated
func (m *EpisodicMemory) NextReview() time.Time {
	idx := m.Reinforcement
	if idx >= len(reviewIntervals) {
		idx = len(reviewIntervals) - 1
	}
	return m.LastAccessed.Add(reviewIntervals[idx])
}

// EpisodicStore is the durable episodic memory layer
type EpisodicStore interface {
	Store(ctx context.Context, mem *EpisodicMemory) error
	Get(ctx context.Context, id string) (*EpisodicMemory, error)
	Update(ctx context.Context, mem *EpisodicMemory) error
	Delete(ctx context.Context, ids []string) error
	// Reinforce bumps reinforcement_count and last_accessed for each id
	Reinforce(ctx context.Context, ids []string) error
	// Similar returns the k memories whose embeddings are closest to vec
	Similar(ctx context.Context, vec []float32, k int) ([]*EpisodicMemory, error)
	// Recent returns up to limit memories with importance above the floor,
	// newest first
	Recent(ctx context.Context, minImportance float64, limit int) ([]*EpisodicMemory, error)
	// Prune removes memories whose retention fell below cutoff and whose
	// importance is below importanceMax, returning how many were removed
	Prune(ctx context.Context, cutoff, importanceMax float64) (int, error)
	Close() error
}

// MemoryEpisodicStore is the in-process EpisodicStore used in tests and
// single-node deployments
type MemoryEpisodicStore struct {
	mu       sync.RWMutex
	memories map[string]*EpisodicMemory
	now      func() time.Time
}

func NewMemoryEpisodicStore() *MemoryEpisodicStore {
	return &MemoryEpisodicStore{
		memories: make(map[string]*EpisodicMemory),
		now:      time.Now,
	}
}

func (s *MemoryEpisodicStore) Store(ctx context.Context, mem *EpisodicMemory) error {
	if err := validateEpisodic(mem); err != nil {
		return err
	}
	if mem.ID == "" {
		mem.ID = uuid.New().String()
	}
	now := s.now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.LastAccessed.IsZero() {
		mem.LastAccessed = mem.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[mem.ID] = copyEpisodic(mem)
	return nil
}

func (s *MemoryEpisodicStore) Get(ctx context.Context, id string) (*EpisodicMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.memories[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "episodic memory %s not found", id)
	}
	return copyEpisodic(mem), nil
}

func (s *MemoryEpisodicStore) Update(ctx context.Context, mem *EpisodicMemory) error {
	if err := validateEpisodic(mem); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[mem.ID]; !ok {
		return apperrors.Newf(apperrors.KindNotFound, "episodic memory %s not found", mem.ID)
	}
	s.memories[mem.ID] = copyEpisodic(mem)
	return nil
}

func (s *MemoryEpisodicStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.memories, id)
	}
	return nil
}

func (s *MemoryEpisodicStore) Reinforce(ctx context.Context, ids []string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		mem, ok := s.memories[id]
		if !ok {
			return apperrors.Newf(apperrors.KindNotFound, "episodic memory %s not found", id)
		}
		mem.Reinforcement++
		mem.LastAccessed = now
	}
	return nil
}

func (s *MemoryEpisodicStore) Similar(ctx context.Context, vec []float32, k int) ([]*EpisodicMemory, error) {
	if len(vec) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "context vector is required")
	}
	if k <= 0 {
		k = 3
	}

	type scored struct {
		mem *EpisodicMemory
		sim float64
	}
	s.mu.RLock()
	candidates := make([]scored, 0, len(s.memories))
	for _, mem := range s.memories {
		if len(mem.Embedding) != len(vec) {
			continue
		}
		sim := embedding.CosineSimilarity(vec, mem.Embedding)
		candidates = append(candidates, scored{copyEpisodic(mem), sim})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].mem.ID < candidates[j].mem.ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]*EpisodicMemory, len(candidates))
	for i, c := range candidates {
		out[i] = c.mem
	}
	return out, nil
}

func (s *MemoryEpisodicStore) Recent(ctx context.Context, minImportance float64, limit int) ([]*EpisodicMemory, error) {
	s.mu.RLock()
	out := make([]*EpisodicMemory, 0, len(s.memories))
	for _, mem := range s.memories {
		if mem.Importance >= minImportance {
			out = append(out, copyEpisodic(mem))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEpisodicStore) Prune(ctx context.Context, cutoff, importanceMax float64) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, mem := range s.memories {
		if mem.Importance < importanceMax && mem.Retention(now) < cutoff {
			delete(s.memories, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryEpisodicStore) Close() error { return nil }

func validateEpisodic(mem *EpisodicMemory) error {
	if mem == nil {
		return apperrors.New(apperrors.KindValidation, "memory is required")
	}
	if mem.EventType == "" {
		return apperrors.New(apperrors.KindValidation, "event_type is required")
	}
	if mem.Importance < 0 || mem.Importance > 1 {
		return apperrors.Newf(apperrors.KindValidation, "importance must be in [0,1], got %f", mem.Importance)
	}
	if mem.Valence < 0 || mem.Valence > 1 {
		return apperrors.Newf(apperrors.KindValidation, "emotional_valence must be in [0,1], got %f", mem.Valence)
	}
	return nil
}

func copyEpisodic(mem *EpisodicMemory) *EpisodicMemory {
	dup := *mem
	if mem.Payload != nil {
		dup.Payload = make(map[string]interface{}, len(mem.Payload))
		for k, v := range mem.Payload {
			dup.Payload[k] = v
		}
	}
	if mem.Embedding != nil {
		dup.Embedding = append([]float32(nil), mem.Embedding...)
	}
	return &dup
}
