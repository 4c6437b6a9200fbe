package indexer

import (
	"context"
	"time"

	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

// dedupe threshold: vectors this close with identical metadata are the
// same profile indexed twice
const dedupeCosine = 0.999

const reindexBatch = 100

// optimizer is implemented by back-ends that can compact themselves
type optimizer interface {
	Optimize(ctx context.Context) error
}

// rebuilder is implemented by back-ends that can swap in a full rebuild
type rebuilder interface {
	Rebuild(ctx context.Context, entries []vector.Entry) error
}

// MaintenanceConfig tunes the periodic tasks
type MaintenanceConfig struct {
	ArchiveAfter     time.Duration
	OptimizeInterval time.Duration
	BackupInterval   time.Duration
}

func (c *MaintenanceConfig) defaults() {
	if c.ArchiveAfter <= 0 {
		c.ArchiveAfter = 365 * 24 * time.Hour
	}
	if c.OptimizeInterval <= 0 {
		c.OptimizeInterval = 24 * time.Hour
	}
	if c.BackupInterval <= 0 {
		c.BackupInterval = 24 * time.Hour
	}
}

// RunMaintenance drives the archival, optimization and backup cadences
// until ctx is cancelled. Reindexing is on demand only.
func (m *Manager) RunMaintenance(ctx context.Context, cfg MaintenanceConfig, snapshots SnapshotStore) {
	cfg.defaults()
	optimize := time.NewTicker(cfg.OptimizeInterval)
	backup := time.NewTicker(cfg.BackupInterval)
	defer optimize.Stop()
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-optimize.C:
			if err := m.Archive(ctx, cfg.ArchiveAfter); err != nil {
				m.logger.Error("archival failed", map[string]interface{}{"error": err.Error()})
			}
			if err := m.Optimize(ctx); err != nil {
				m.logger.Error("optimization failed", map[string]interface{}{"error": err.Error()})
			}
		case <-backup.C:
			if snapshots == nil {
				continue
			}
			if err := m.Backup(ctx, snapshots); err != nil {
				m.logger.Error("backup failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Archive flips profiles inactive past the cutoff to archived and drops
// them from the live index
func (m *Manager) Archive(ctx context.Context, after time.Duration) error {
	stale, err := m.store.StaleSince(ctx, time.Now().Add(-after))
	if err != nil {
		return err
	}
	archived := 0
	for _, p := range stale {
		if err := m.store.Archive(ctx, p.ID); err != nil {
			m.logger.Warn("failed to archive profile", map[string]interface{}{
				"talent_id": p.ID, "error": err.Error(),
			})
			continue
		}
		if err := m.index.Delete(ctx, p.ID); err != nil {
			m.logger.Warn("failed to drop archived vector", map[string]interface{}{
				"talent_id": p.ID, "error": err.Error(),
			})
		}
		archived++
	}
	if archived > 0 {
		m.metrics.IncrementCounter("indexer_archived_total", float64(archived))
		m.logger.Info("archival pass complete", map[string]interface{}{"archived": archived})
	}
	return nil
}

// Optimize deduplicates near-identical vectors and compacts the index
func (m *Manager) Optimize(ctx context.Context) error {
	list, err := m.store.List(ctx, profiles.ListOptions{Status: models.TalentActive})
	if err != nil {
		return err
	}

	entries := make([]vector.Entry, 0, len(list))
	for _, p := range list {
		e, err := m.index.Fetch(ctx, p.ID)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}

	removed := 0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].ID == "" {
				continue
			}
			if embedding.CosineSimilarity(entries[i].Vector, entries[j].Vector) < dedupeCosine {
				continue
			}
			if !equalMetadata(entries[i].Metadata, entries[j].Metadata) {
				continue
			}
			if err := m.index.Delete(ctx, entries[j].ID); err == nil {
				entries[j].ID = ""
				removed++
			}
		}
	}
	if removed > 0 {
		m.metrics.IncrementCounter("indexer_deduped_total", float64(removed))
		m.logger.Info("index dedupe complete", map[string]interface{}{"removed": removed})
	}

	if opt, ok := m.index.(optimizer); ok {
		return opt.Optimize(ctx)
	}
	return nil
}

// Reindex re-embeds every active profile in batches and swaps the result
// in. The live index keeps serving reads until the swap.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	var all []vector.Entry
	offset := 0
	for {
		page, err := m.store.List(ctx, profiles.ListOptions{
			Status: models.TalentActive,
			Limit:  reindexBatch,
			Offset: offset,
		})
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}

		texts := make([]string, len(page))
		for i, p := range page {
			texts[i] = p.SearchableText()
		}
		vecs, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}
		for i, p := range page {
			all = append(all, vector.Entry{ID: p.ID, Vector: vecs[i], Metadata: p.IndexMetadata()})
		}
		offset += len(page)
	}

	if rb, ok := m.index.(rebuilder); ok {
		if err := rb.Rebuild(ctx, all); err != nil {
			return 0, err
		}
	} else if err := m.index.UpsertBatch(ctx, all); err != nil {
		return 0, err
	}

	m.metrics.IncrementCounter("indexer_reindex_total", 1)
	m.logger.Info("reindex complete", map[string]interface{}{"entries": len(all)})
	return len(all), nil
}

func equalMetadata(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		if !equalValue(va, vb) {
			return false
		}
	}
	return true
}

func equalValue(a, b interface{}) bool {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if aok || bok {
		if !aok || !bok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
