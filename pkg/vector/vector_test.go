package vector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

func unit(vals ...float32) []float32 {
	var sum float64
	for _, v := range vals {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = v / norm
	}
	return out
}

func newTestLocal(t *testing.T, dims int) *LocalIndex {
	t.Helper()
	idx, err := NewLocalIndex(LocalIndexConfig{Dimensions: dims}, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestLocalIndexUpsertFetchRoundTrip(t *testing.T) {
	idx := newTestLocal(t, 3)
	ctx := context.Background()

	entry := Entry{
		ID:       "talent-1",
		Vector:   unit(1, 2, 3),
		Metadata: map[string]interface{}{"location": "london", "day_rate": 400},
	}
	require.NoError(t, idx.Upsert(ctx, entry))

	got, err := idx.Fetch(ctx, "talent-1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	_, err = idx.Fetch(ctx, "absent")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestLocalIndexUpsertReplaces(t *testing.T) {
	idx := newTestLocal(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, Entry{ID: "a", Vector: unit(1, 0)}))
	require.NoError(t, idx.Upsert(ctx, Entry{ID: "a", Vector: unit(0, 1)}))

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := idx.Search(ctx, unit(0, 1), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestLocalIndexDelete(t *testing.T) {
	idx := newTestLocal(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, Entry{ID: "a", Vector: unit(1, 0)}))
	require.NoError(t, idx.Delete(ctx, "a"))
	require.NoError(t, idx.Delete(ctx, "a"), "deleting an absent id is not an error")

	hits, err := idx.Search(ctx, unit(1, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLocalIndexSearchOrdersByScore(t *testing.T) {
	idx := newTestLocal(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.UpsertBatch(ctx, []Entry{
		{ID: "east", Vector: unit(1, 0)},
		{ID: "north", Vector: unit(0, 1)},
		{ID: "northeast", Vector: unit(1, 1)},
	}))

	hits, err := idx.Search(ctx, unit(1, 0.1), 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "northeast", hits[1].ID)
	assert.Equal(t, "north", hits[2].ID)
}

func TestLocalIndexFilters(t *testing.T) {
	idx := newTestLocal(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.UpsertBatch(ctx, []Entry{
		{ID: "a", Vector: unit(1, 0), Metadata: map[string]interface{}{"location": "london", "day_rate": 300}},
		{ID: "b", Vector: unit(1, 0.1), Metadata: map[string]interface{}{"location": "paris", "day_rate": 500}},
		{ID: "c", Vector: unit(1, 0.2), Metadata: map[string]interface{}{"location": "london", "day_rate": 800}},
	}))

	hits, err := idx.Search(ctx, unit(1, 0), 10, []Filter{Eq("location", "london")})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)

	hits, err = idx.Search(ctx, unit(1, 0), 10, []Filter{Lte("day_rate", 600)})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = idx.Search(ctx, unit(1, 0), 10, []Filter{In("location", "paris", "berlin")})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestLocalIndexRejectsDimensionMismatch(t *testing.T) {
	idx := newTestLocal(t, 4)
	ctx := context.Background()

	err := idx.Upsert(ctx, Entry{ID: "a", Vector: unit(1, 0)})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = idx.Search(ctx, unit(1, 0), 3, nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestLocalIndexRecallOnClusteredData(t *testing.T) {
	idx := newTestLocal(t, 8)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	// two well-separated clusters
	center := func(base float32) []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = base + rng.Float32()*0.05
		}
		return unit(v...)
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Upsert(ctx, Entry{ID: fmt.Sprintf("pos-%d", i), Vector: center(1)}))
		require.NoError(t, idx.Upsert(ctx, Entry{ID: fmt.Sprintf("neg-%d", i), Vector: center(-1)}))
	}

	query := center(1)
	hits, err := idx.Search(ctx, query, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 10)
	for _, h := range hits {
		assert.Contains(t, h.ID, "pos-")
	}
}

func TestLocalIndexPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := LocalIndexConfig{Dimensions: 2, DataDir: dir, PersistEvery: 1}

	idx, err := NewLocalIndex(cfg, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, Entry{
		ID: "a", Vector: unit(1, 0),
		Metadata: map[string]interface{}{"location": "london"},
	}))
	require.NoError(t, idx.Close())

	reloaded, err := NewLocalIndex(cfg, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	require.NoError(t, err)
	defer func() { _ = reloaded.Close() }()

	got, err := reloaded.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "london", got.Metadata["location"])

	hits, err := reloaded.Search(ctx, unit(1, 0), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestFlatIndexMatchesLocalOrdering(t *testing.T) {
	flat := NewFlatIndex(2)
	ctx := context.Background()

	require.NoError(t, flat.UpsertBatch(ctx, []Entry{
		{ID: "east", Vector: unit(1, 0)},
		{ID: "north", Vector: unit(0, 1)},
		{ID: "northeast", Vector: unit(1, 1)},
	}))

	hits, err := flat.Search(ctx, unit(1, 0.1), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "northeast", hits[1].ID)
}

func TestFilterFingerprintDeterministic(t *testing.T) {
	a := Fingerprint([]Filter{Eq("location", "london"), In("skill", "fencing", "archery")})
	b := Fingerprint([]Filter{In("skill", "archery", "fencing"), Eq("location", "london")})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint([]Filter{Eq("location", "paris")}))
	assert.Equal(t, "", Fingerprint(nil))
}

func TestFilterMissingFieldNeverMatches(t *testing.T) {
	meta := map[string]interface{}{"location": "london"}
	assert.False(t, Eq("status", "active").Matches(meta))
	assert.False(t, Gte("day_rate", 10).Matches(meta))
	assert.True(t, Eq("location", "london").Matches(meta))
}
