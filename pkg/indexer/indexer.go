// Package indexer keeps the vector index in sync with the profile store:
// a bounded update queue drained on a fixed cadence, with exponential
// backoff on batch failures and a dead-letter list after repeated ones.
// It also owns the maintenance cadences: archival, optimization, full
// reindex and snapshot backup.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

// Op is the kind of index mutation being queued
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Update is one queued index mutation. Later updates for the same talent
// id replace earlier ones.
type Update struct {
	TalentID string
	Op       Op
	Profile  *models.TalentProfile
	Priority bool

	attempts  int
	notBefore time.Time
}

// Config tunes the manager
type Config struct {
	DrainInterval time.Duration
	BatchSize     int
	QueueCapacity int
	MaxRetries    int
}

func (c *Config) defaults() {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

const (
	backoffBase = time.Second
	backoffCap  = 16 * time.Second
)

// Manager drains queued updates into the vector index
type Manager struct {
	cfg      Config
	embedder *embedding.Service
	index    vector.Index
	store    profiles.Store

	mu         sync.Mutex
	queue      map[string]*Update
	deadLetter []Update

	kick chan struct{}
	done chan struct{}

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewManager creates a manager; call Run to start the drain loop
func NewManager(cfg Config, embedder *embedding.Service, index vector.Index, store profiles.Store, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		store:    store,
		queue:    make(map[string]*Update),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// QueueUpdate enqueues a mutation. A full queue returns
// KindCapacityExceeded; high-priority updates force an immediate drain.
func (m *Manager) QueueUpdate(u Update) error {
	if u.TalentID == "" {
		return apperrors.New(apperrors.KindValidation, "talent id is required")
	}
	if u.Op != OpUpsert && u.Op != OpDelete {
		return apperrors.Newf(apperrors.KindValidation, "unknown op %q", u.Op)
	}
	if u.Op == OpUpsert && u.Profile == nil {
		return apperrors.New(apperrors.KindValidation, "upsert requires profile data")
	}

	m.mu.Lock()
	if _, replacing := m.queue[u.TalentID]; !replacing && len(m.queue) >= m.cfg.QueueCapacity {
		m.mu.Unlock()
		m.metrics.IncrementCounter("indexer_queue_rejected_total", 1)
		return apperrors.New(apperrors.KindCapacityExceeded, "index update queue is full")
	}
	m.queue[u.TalentID] = &u
	depth := len(m.queue)
	m.mu.Unlock()

	m.metrics.RecordGauge("indexer_queue_depth", float64(depth), nil)
	if u.Priority {
		m.Kick()
	}
	return nil
}

// Kick requests an immediate drain without waiting for the ticker
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Drain(ctx)
		case <-m.kick:
			m.Drain(ctx)
		}
	}
}

// Done is closed when Run has exited
func (m *Manager) Done() <-chan struct{} { return m.done }

// Drain processes one batch of due updates
func (m *Manager) Drain(ctx context.Context) {
	batch := m.takeBatch()
	if len(batch) == 0 {
		return
	}

	upserts := make([]*Update, 0, len(batch))
	for _, u := range batch {
		if u.Op == OpDelete {
			if err := m.index.Delete(ctx, u.TalentID); err != nil {
				m.requeue(u, err)
			} else {
				m.metrics.IncrementCounterWithLabels("indexer_updates_total", 1, map[string]string{"op": "delete"})
			}
			continue
		}
		upserts = append(upserts, u)
	}
	if len(upserts) == 0 {
		return
	}

	texts := make([]string, len(upserts))
	for i, u := range upserts {
		texts[i] = u.Profile.SearchableText()
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, u := range upserts {
			m.requeue(u, err)
		}
		return
	}

	entries := make([]vector.Entry, len(upserts))
	for i, u := range upserts {
		entries[i] = vector.Entry{
			ID:       u.TalentID,
			Vector:   vecs[i],
			Metadata: u.Profile.IndexMetadata(),
		}
	}
	if err := m.index.UpsertBatch(ctx, entries); err != nil {
		for _, u := range upserts {
			m.requeue(u, err)
		}
		return
	}
	m.metrics.IncrementCounterWithLabels("indexer_updates_total", float64(len(upserts)), map[string]string{"op": "upsert"})
}

// takeBatch removes up to BatchSize due updates from the queue
func (m *Manager) takeBatch() []*Update {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]*Update, 0, m.cfg.BatchSize)
	for id, u := range m.queue {
		if u.notBefore.After(now) {
			continue
		}
		batch = append(batch, u)
		delete(m.queue, id)
		if len(batch) == m.cfg.BatchSize {
			break
		}
	}
	return batch
}

// requeue applies exponential backoff, moving the update to the
// dead-letter list once retries are exhausted
func (m *Manager) requeue(u *Update, cause error) {
	u.attempts++
	if u.attempts > m.cfg.MaxRetries {
		m.mu.Lock()
		m.deadLetter = append(m.deadLetter, *u)
		m.mu.Unlock()
		m.metrics.IncrementCounter("indexer_dead_letter_total", 1)
		m.logger.Error("index update dead-lettered", map[string]interface{}{
			"talent_id": u.TalentID,
			"op":        string(u.Op),
			"attempts":  u.attempts,
			"error":     cause.Error(),
		})
		return
	}

	delay := backoffBase << (u.attempts - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	u.notBefore = time.Now().Add(delay)

	m.mu.Lock()
	// a fresher update for the same id wins over the retry
	if _, exists := m.queue[u.TalentID]; !exists {
		m.queue[u.TalentID] = u
	}
	m.mu.Unlock()

	m.logger.Warn("index update retry scheduled", map[string]interface{}{
		"talent_id": u.TalentID,
		"attempt":   u.attempts,
		"delay":     delay.String(),
		"error":     cause.Error(),
	})
}

// QueueDepth reports pending updates
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// DeadLetters returns a copy of the dead-letter list
func (m *Manager) DeadLetters() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Update(nil), m.deadLetter...)
}

// Dims reports the embedding dimensionality the index is built for
func (m *Manager) Dims() int { return m.embedder.Dimensions() }

// Stats summarises manager state for the index stats endpoint
func (m *Manager) Stats(ctx context.Context) map[string]interface{} {
	size, _ := m.index.Len(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"queue_depth":  len(m.queue),
		"dead_letters": len(m.deadLetter),
		"index_size":   size,
	}
}
