package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// FlatIndex is a brute-force back-end: exact search by scanning every
// entry. Fine for small corpora and the default in tests.
type FlatIndex struct {
	dims    int
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewFlatIndex creates an empty flat index
func NewFlatIndex(dims int) *FlatIndex {
	return &FlatIndex{dims: dims, entries: make(map[string]Entry)}
}

func (idx *FlatIndex) Upsert(_ context.Context, entry Entry) error {
	if err := validateEntry(entry, idx.dims); err != nil {
		return err
	}
	idx.mu.Lock()
	idx.entries[entry.ID] = entry
	idx.mu.Unlock()
	return nil
}

func (idx *FlatIndex) UpsertBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e, idx.dims); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := idx.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (idx *FlatIndex) Fetch(_ context.Context, id string) (Entry, error) {
	idx.mu.RLock()
	entry, ok := idx.entries[id]
	idx.mu.RUnlock()
	if !ok {
		return Entry{}, apperrors.Newf(apperrors.KindNotFound, "vector %s not found", id)
	}
	return entry, nil
}

func (idx *FlatIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
	return nil
}

func (idx *FlatIndex) Search(_ context.Context, query []float32, k int, filters []Filter) ([]Match, error) {
	if err := validateQuery(query, k, idx.dims); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.entries))
	for _, e := range idx.entries {
		if !MatchesAll(e.Metadata, filters) {
			continue
		}
		matches = append(matches, Match{
			ID:       e.ID,
			Score:    1 - float64(cosineDist(query, e.Vector)),
			Metadata: e.Metadata,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (idx *FlatIndex) Len(_ context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

func (idx *FlatIndex) Close() error { return nil }
