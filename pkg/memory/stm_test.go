package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
)

func newSTM(capacity int, ttl time.Duration, durable *cache.ConversationCache) *ShortTermMemory {
	return NewShortTermMemory(capacity, ttl, durable, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func turn(content string, importance float64) models.Turn {
	return models.Turn{Role: models.RoleUser, Content: content, Importance: importance, Timestamp: time.Now()}
}

func TestAppendValidation(t *testing.T) {
	stm := newSTM(7, 0, nil)
	ctx := context.Background()

	assert.Error(t, stm.Append(ctx, "", turn("hi", 0.5)))
	assert.Error(t, stm.Append(ctx, "s1", models.Turn{Importance: 0.5}))
}

func TestAppendOrderPreserved(t *testing.T) {
	stm := newSTM(7, 0, nil)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, stm.Append(ctx, "s1", turn(c, 0.5)))
	}
	turns, err := stm.Get(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "three", turns[2].Content)

	last, err := stm.Get(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
}

func TestEvictionDropsLowestImportance(t *testing.T) {
	stm := newSTM(5, 0, nil)
	ctx := context.Background()

	for i, imp := range []float64{0.8, 0.3, 0.9, 0.6, 0.7} {
		require.NoError(t, stm.Append(ctx, "s1", turn(string(rune('a'+i)), imp)))
	}
	// at capacity; the 0.3 turn goes
	require.NoError(t, stm.Append(ctx, "s1", turn("new", 0.5)))

	turns, err := stm.Get(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for _, tu := range turns {
		assert.NotEqual(t, "b", tu.Content)
	}
	assert.Equal(t, "new", turns[4].Content)
}

func TestEvictionTieBreaksOldest(t *testing.T) {
	stm := newSTM(3, 0, nil)
	ctx := context.Background()

	require.NoError(t, stm.Append(ctx, "s1", turn("first", 0.4)))
	require.NoError(t, stm.Append(ctx, "s1", turn("second", 0.4)))
	require.NoError(t, stm.Append(ctx, "s1", turn("third", 0.9)))
	require.NoError(t, stm.Append(ctx, "s1", turn("fourth", 0.5)))

	turns, err := stm.Get(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "second", turns[0].Content, "oldest of the tied pair is evicted")
}

func TestConsolidateReturnsAndClears(t *testing.T) {
	stm := newSTM(9, 0, nil)
	ctx := context.Background()

	importances := []float64{0.9, 0.2, 0.7, 0.1, 0.3, 0.85, 0.5, 0.4}
	for i, imp := range importances {
		require.NoError(t, stm.Append(ctx, "s1", turn(string(rune('a'+i)), imp)))
	}

	promoted, err := stm.Consolidate(ctx, "s1", 0.6)
	require.NoError(t, err)
	require.Len(t, promoted, 3)
	for _, tu := range promoted {
		assert.GreaterOrEqual(t, tu.Importance, 0.6)
	}

	remaining, err := stm.Get(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)
	for _, tu := range remaining {
		assert.Less(t, tu.Importance, 0.6)
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	stm := newSTM(7, 5*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, stm.Append(ctx, "s1", turn("hello", 0.5)))
	assert.Equal(t, 1, stm.Len("s1"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, stm.Sweep(ctx))
	assert.Equal(t, 0, stm.Len("s1"))
	assert.Empty(t, stm.Sessions())
}

func TestDurableRehydration(t *testing.T) {
	conv := cache.NewConversationCache(cache.NewTTLStore(), time.Hour)
	ctx := context.Background()

	first := newSTM(7, 0, conv)
	require.NoError(t, first.Append(ctx, "s1", turn("persisted", 0.5)))

	// a fresh process resumes the session from the cache
	second := newSTM(7, 0, conv)
	turns, err := second.Get(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "persisted", turns[0].Content)
}

func TestClearRemovesDurableCopy(t *testing.T) {
	conv := cache.NewConversationCache(cache.NewTTLStore(), time.Hour)
	ctx := context.Background()

	stm := newSTM(7, 0, conv)
	require.NoError(t, stm.Append(ctx, "s1", turn("gone", 0.5)))
	stm.Clear(ctx, "s1")

	fresh := newSTM(7, 0, conv)
	turns, err := fresh.Get(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
