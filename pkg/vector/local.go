package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

// overfetch factor applied when filters are present, so post-filtering
// still has enough candidates to fill k
const filterOverfetch = 3

// LocalIndexConfig configures the embedded HNSW index
type LocalIndexConfig struct {
	Dimensions   int
	DataDir      string
	PersistEvery int // mutations between automatic snapshots
	M            int
	EfConstruct  int
	EfSearch     int
}

// LocalIndex is the embedded vector back-end: an HNSW graph for search
// plus a metadata map for fetch and filtering. Snapshots go to disk with
// a write-then-rename so a crash mid-write never corrupts the last good
// snapshot.
type LocalIndex struct {
	cfg   LocalIndexConfig
	graph *hnswGraph

	mu        sync.RWMutex
	entries   map[string]Entry
	mutations int

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewLocalIndex creates the index and loads the previous snapshot from
// DataDir when one exists
func NewLocalIndex(cfg LocalIndexConfig, logger observability.Logger, metrics observability.MetricsClient) (*LocalIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "index dimensions must be positive")
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 100
	}

	idx := &LocalIndex{
		cfg:     cfg,
		graph:   newHNSWGraph(cfg.M, cfg.EfConstruct, cfg.EfSearch, time.Now().UnixNano()),
		entries: make(map[string]Entry),
		logger:  logger,
		metrics: metrics,
	}

	if cfg.DataDir != "" {
		if err := idx.loadSnapshot(); err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.Wrap(err, apperrors.KindPersistence, "failed to load index snapshot")
			}
		}
	}
	return idx, nil
}

func (idx *LocalIndex) Upsert(ctx context.Context, entry Entry) error {
	return idx.UpsertBatch(ctx, []Entry{entry})
}

func (idx *LocalIndex) UpsertBatch(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e, idx.cfg.Dimensions); err != nil {
			return err
		}
	}

	for _, e := range entries {
		idx.graph.insert(e.ID, e.Vector)
		idx.mu.Lock()
		idx.entries[e.ID] = e
		idx.mu.Unlock()
	}
	idx.metrics.IncrementCounterWithLabels("vector_index_mutations_total", float64(len(entries)), map[string]string{"op": "upsert"})
	idx.noteMutations(len(entries))
	return nil
}

func (idx *LocalIndex) Fetch(_ context.Context, id string) (Entry, error) {
	idx.mu.RLock()
	entry, ok := idx.entries[id]
	idx.mu.RUnlock()
	if !ok {
		return Entry{}, apperrors.Newf(apperrors.KindNotFound, "vector %s not found", id)
	}
	return entry, nil
}

func (idx *LocalIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	_, existed := idx.entries[id]
	delete(idx.entries, id)
	idx.mu.Unlock()

	if existed {
		idx.graph.remove(id)
		idx.metrics.IncrementCounterWithLabels("vector_index_mutations_total", 1, map[string]string{"op": "delete"})
		idx.noteMutations(1)
	}
	return nil
}

func (idx *LocalIndex) Search(_ context.Context, query []float32, k int, filters []Filter) ([]Match, error) {
	if err := validateQuery(query, k, idx.cfg.Dimensions); err != nil {
		return nil, err
	}

	fetch := k
	if len(filters) > 0 {
		fetch = k * filterOverfetch
	}

	hits := idx.graph.search(query, fetch)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Match, 0, k)
	for _, hit := range hits {
		entry, ok := idx.entries[hit.id]
		if !ok {
			continue
		}
		if !MatchesAll(entry.Metadata, filters) {
			continue
		}
		out = append(out, Match{
			ID:       hit.id,
			Score:    1 - float64(hit.dist),
			Metadata: entry.Metadata,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (idx *LocalIndex) Len(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

// Optimize compacts the graph when tombstones have accumulated
func (idx *LocalIndex) Optimize(_ context.Context) error {
	if idx.graph.tombstoneRatio() < 0.2 {
		return nil
	}
	start := time.Now()
	idx.graph.compact()
	idx.logger.Info("vector index compacted", map[string]interface{}{
		"duration": time.Since(start).String(),
		"size":     idx.graph.size(),
	})
	return idx.persist()
}

// Rebuild drops the graph and reinserts every entry. Used by full
// reindex after an embedding model change.
func (idx *LocalIndex) Rebuild(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e, idx.cfg.Dimensions); err != nil {
			return err
		}
	}

	fresh := newHNSWGraph(idx.cfg.M, idx.cfg.EfConstruct, idx.cfg.EfSearch, time.Now().UnixNano())
	table := make(map[string]Entry, len(entries))
	for _, e := range entries {
		fresh.insert(e.ID, e.Vector)
		table[e.ID] = e
	}

	idx.mu.Lock()
	idx.graph = fresh
	idx.entries = table
	idx.mu.Unlock()

	return idx.persist()
}

func (idx *LocalIndex) Close() error {
	if idx.cfg.DataDir == "" {
		return nil
	}
	return idx.persist()
}

func (idx *LocalIndex) noteMutations(n int) {
	if idx.cfg.DataDir == "" {
		return
	}
	idx.mu.Lock()
	idx.mutations += n
	due := idx.mutations >= idx.cfg.PersistEvery
	if due {
		idx.mutations = 0
	}
	idx.mu.Unlock()

	if due {
		if err := idx.persist(); err != nil {
			idx.logger.Error("index snapshot failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (idx *LocalIndex) graphPath() string   { return filepath.Join(idx.cfg.DataDir, "index.hnsw") }
func (idx *LocalIndex) entriesPath() string { return filepath.Join(idx.cfg.DataDir, "entries.gob") }

// persist writes both files to temp names and renames them into place
func (idx *LocalIndex) persist() error {
	if idx.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(idx.cfg.DataDir, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to create index data dir")
	}

	if err := writeAtomic(idx.graphPath(), idx.graph.save); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to snapshot graph")
	}

	idx.mu.RLock()
	entries := make(map[string]Entry, len(idx.entries))
	for k, v := range idx.entries {
		entries[k] = v
	}
	idx.mu.RUnlock()

	err := writeAtomic(idx.entriesPath(), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(entries)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to snapshot entries")
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (idx *LocalIndex) loadSnapshot() error {
	graphFile, err := os.Open(idx.graphPath())
	if err != nil {
		return err
	}
	defer func() { _ = graphFile.Close() }()
	if err := idx.graph.load(graphFile); err != nil {
		return fmt.Errorf("corrupt graph snapshot: %w", err)
	}

	entriesFile, err := os.Open(idx.entriesPath())
	if err != nil {
		return err
	}
	defer func() { _ = entriesFile.Close() }()

	var entries map[string]Entry
	if err := gob.NewDecoder(entriesFile).Decode(&entries); err != nil {
		return fmt.Errorf("corrupt entries snapshot: %w", err)
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()

	idx.logger.Info("vector index snapshot loaded", map[string]interface{}{
		"entries": len(entries),
		"dir":     idx.cfg.DataDir,
	})
	return nil
}
