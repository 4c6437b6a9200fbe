package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

func TestEpisodicStoreRoundTrip(t *testing.T) {
	store := NewMemoryEpisodicStore()
	ctx := context.Background()

	mem := &EpisodicMemory{
		Owner:      "u1",
		EventType:  "casting_decision",
		Payload:    map[string]interface{}{"talent": "t1"},
		Importance: 0.8,
		Valence:    0.7,
	}
	require.NoError(t, store.Store(ctx, mem))
	require.NotEmpty(t, mem.ID)

	got, err := store.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "casting_decision", got.EventType)
	assert.Equal(t, "t1", got.Payload["talent"])
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.LastAccessed)

	// stored copy is isolated from caller mutation
	mem.Payload["talent"] = "changed"
	again, err := store.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", again.Payload["talent"])
}

func TestEpisodicValidation(t *testing.T) {
	store := NewMemoryEpisodicStore()
	ctx := context.Background()

	err := store.Store(ctx, &EpisodicMemory{Importance: 0.5, Valence: 0.5})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	err = store.Store(ctx, &EpisodicMemory{EventType: "x", Importance: 1.5, Valence: 0.5})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	err = store.Reinforce(ctx, []string{"missing"})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestRetentionDecaysOverTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := &EpisodicMemory{
		EventType:    "note",
		Importance:   0.5,
		Valence:      0.5,
		LastAccessed: t0,
		CreatedAt:    t0,
	}

	atOneHour := mem.Retention(t0.Add(time.Hour))
	atOneWeek := mem.Retention(t0.Add(168 * time.Hour))

	assert.Greater(t, atOneHour, atOneWeek)
	assert.GreaterOrEqual(t, atOneHour, 0.0)
	assert.LessOrEqual(t, atOneHour, 1.0)
}

func TestReinforcementSlowsDecay(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := &EpisodicMemory{
		EventType:    "note",
		Importance:   0.5,
		Valence:      0.5,
		LastAccessed: t0,
	}

	// reinforced at 24h: counter bumps and the clock restarts
	reinforced := &EpisodicMemory{
		EventType:     "note",
		Importance:    0.5,
		Valence:       0.5,
		Reinforcement: 1,
		LastAccessed:  t0.Add(24 * time.Hour),
	}

	at168 := t0.Add(168 * time.Hour)
	assert.Greater(t, reinforced.Retention(at168), base.Retention(at168))
}

func TestRetentionBoostsAreBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := &EpisodicMemory{
		EventType:     "note",
		Importance:    0.95,
		Valence:       0.95,
		Reinforcement: 20,
		LastAccessed:  now,
		Payload: map[string]interface{}{
			"a": 1, "b": 2, "c": 3, "d": 4, "e": 5,
		},
	}
	r := mem.Retention(now)
	assert.LessOrEqual(t, r, 1.0)
	assert.GreaterOrEqual(t, r, 0.0)
}

func TestNextReviewFollowsSchedule(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := &EpisodicMemory{EventType: "note", LastAccessed: t0}

	assert.Equal(t, t0.Add(24*time.Hour), mem.NextReview())

	mem.Reinforcement = 2
	assert.Equal(t, t0.Add(7*24*time.Hour), mem.NextReview())

	mem.Reinforcement = 50
	assert.Equal(t, t0.Add(180*24*time.Hour), mem.NextReview())
}

func TestSimilarOrdersByCosine(t *testing.T) {
	store := NewMemoryEpisodicStore()
	ctx := context.Background()

	near := &EpisodicMemory{ID: "near", EventType: "note", Importance: 0.5, Valence: 0.5, Embedding: []float32{1, 0, 0}}
	mid := &EpisodicMemory{ID: "mid", EventType: "note", Importance: 0.5, Valence: 0.5, Embedding: []float32{0.7, 0.7, 0}}
	far := &EpisodicMemory{ID: "far", EventType: "note", Importance: 0.5, Valence: 0.5, Embedding: []float32{0, 0, 1}}
	for _, m := range []*EpisodicMemory{far, mid, near} {
		require.NoError(t, store.Store(ctx, m))
	}

	got, err := store.Similar(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestPruneRespectsImportanceCeiling(t *testing.T) {
	store := NewMemoryEpisodicStore()
	old := time.Now().Add(-90 * 24 * time.Hour)
	ctx := context.Background()

	faded := &EpisodicMemory{ID: "faded", EventType: "note", Importance: 0.2, Valence: 0.5, LastAccessed: old, CreatedAt: old}
	precious := &EpisodicMemory{ID: "precious", EventType: "note", Importance: 0.9, Valence: 0.5, LastAccessed: old, CreatedAt: old}
	require.NoError(t, store.Store(ctx, faded))
	require.NoError(t, store.Store(ctx, precious))

	pruned, err := store.Prune(ctx, 0.1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = store.Get(ctx, "faded")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	_, err = store.Get(ctx, "precious")
	assert.NoError(t, err)
}

func TestRecentFiltersAndOrders(t *testing.T) {
	store := NewMemoryEpisodicStore()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, imp := range []float64{0.9, 0.3, 0.8} {
		require.NoError(t, store.Store(ctx, &EpisodicMemory{
			ID:         string(rune('a' + i)),
			EventType:  "note",
			Importance: imp,
			Valence:    0.5,
			CreatedAt:  t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := store.Recent(ctx, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID, "newest first")
	assert.Equal(t, "a", got[1].ID)
}
