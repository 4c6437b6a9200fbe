// Package memory implements the tiered conversation memory: a bounded
// per-session short-term store, durable episodic, semantic-graph and
// procedural long-term stores, and the consolidation engine that moves
// turns between them.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
)

const (
	defaultSTMCapacity = 7
	defaultSTMTTL      = 30 * time.Minute
)

type session struct {
	mu        sync.Mutex
	turns     []models.Turn
	expiresAt time.Time
}

// ShortTermMemory keeps a bounded ordered log of turns per session. The
// log order is append order; timestamps are never used for ordering.
// When durable is set, every mutation is written through to the
// conversation cache so a restarted process can resume sessions.
type ShortTermMemory struct {
	capacity int
	ttl      time.Duration
	durable  *cache.ConversationCache
	logger   observability.Logger
	metrics  observability.MetricsClient

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewShortTermMemory creates an STM; durable may be nil
func NewShortTermMemory(capacity int, ttl time.Duration, durable *cache.ConversationCache, logger observability.Logger, metrics observability.MetricsClient) *ShortTermMemory {
	if capacity <= 0 {
		capacity = defaultSTMCapacity
	}
	if ttl <= 0 {
		ttl = defaultSTMTTL
	}
	return &ShortTermMemory{
		capacity: capacity,
		ttl:      ttl,
		durable:  durable,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*session),
	}
}

// Append adds a turn, evicting the lowest-importance turn when the
// session is at capacity. Ties evict the oldest.
func (s *ShortTermMemory) Append(ctx context.Context, sessionID string, turn models.Turn) error {
	if sessionID == "" {
		return apperrors.New(apperrors.KindValidation, "session id is required")
	}
	if turn.Content == "" {
		return apperrors.New(apperrors.KindValidation, "turn content is required")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	sess := s.resolve(ctx, sessionID)
	sess.mu.Lock()
	if len(sess.turns) >= s.capacity {
		evict := 0
		for i := 1; i < len(sess.turns); i++ {
			if sess.turns[i].Importance < sess.turns[evict].Importance {
				evict = i
			}
		}
		sess.turns = append(sess.turns[:evict], sess.turns[evict+1:]...)
		s.metrics.IncrementCounter("stm_evictions_total", 1)
	}
	sess.turns = append(sess.turns, turn)
	sess.expiresAt = time.Now().Add(s.ttl)
	snapshot := append([]models.Turn(nil), sess.turns...)
	sess.mu.Unlock()

	s.persist(ctx, sessionID, snapshot)
	return nil
}

// Get returns up to limit most recent turns in append order. limit <= 0
// returns the whole log. Access refreshes the session TTL.
func (s *ShortTermMemory) Get(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "session id is required")
	}

	sess := s.resolve(ctx, sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.expiresAt = time.Now().Add(s.ttl)
	turns := sess.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.Turn(nil), turns...), nil
}

// Consolidate returns the turns with importance >= threshold and removes
// them from the session
func (s *ShortTermMemory) Consolidate(ctx context.Context, sessionID string, threshold float64) ([]models.Turn, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "session id is required")
	}

	sess := s.resolve(ctx, sessionID)
	sess.mu.Lock()

	var promoted, kept []models.Turn
	for _, t := range sess.turns {
		if t.Importance >= threshold {
			promoted = append(promoted, t)
		} else {
			kept = append(kept, t)
		}
	}
	sess.turns = kept
	snapshot := append([]models.Turn(nil), kept...)
	sess.mu.Unlock()

	if len(promoted) > 0 {
		s.persist(ctx, sessionID, snapshot)
	}
	return promoted, nil
}

// Touch refreshes the session TTL without reading it
func (s *ShortTermMemory) Touch(ctx context.Context, sessionID string) {
	sess := s.resolve(ctx, sessionID)
	sess.mu.Lock()
	sess.expiresAt = time.Now().Add(s.ttl)
	sess.mu.Unlock()
}

// Clear destroys a session
func (s *ShortTermMemory) Clear(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if s.durable != nil {
		if err := s.durable.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("conversation cache delete failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
}

// Len reports the number of turns in a session
func (s *ShortTermMemory) Len(sessionID string) int {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.turns)
}

// Sessions lists the ids of live sessions
func (s *ShortTermMemory) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sweep removes expired sessions and returns how many were dropped
func (s *ShortTermMemory) Sweep(ctx context.Context) int {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		if now.After(sess.expiresAt) {
			expired = append(expired, id)
		}
		sess.mu.Unlock()
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, id := range expired {
		if s.durable != nil {
			if err := s.durable.Delete(ctx, id); err != nil {
				s.logger.Warn("conversation cache delete failed", map[string]interface{}{
					"session_id": id,
					"error":      err.Error(),
				})
			}
		}
	}
	if len(expired) > 0 {
		s.metrics.IncrementCounter("stm_sessions_expired_total", float64(len(expired)))
	}
	return len(expired)
}

// Run sweeps expired sessions until the context is cancelled
func (s *ShortTermMemory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// resolve returns the live session, rehydrating from the durable cache
// on first access after a restart
func (s *ShortTermMemory) resolve(ctx context.Context, sessionID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	var restored []models.Turn
	if s.durable != nil {
		if turns, err := s.durable.Get(ctx, sessionID); err == nil {
			restored = turns
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionID]; ok {
		return sess
	}
	sess = &session{turns: restored, expiresAt: time.Now().Add(s.ttl)}
	s.sessions[sessionID] = sess
	return sess
}

func (s *ShortTermMemory) persist(ctx context.Context, sessionID string, turns []models.Turn) {
	if s.durable == nil {
		return
	}
	if err := s.durable.Set(ctx, sessionID, turns); err != nil {
		s.logger.Warn("conversation cache write failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}
