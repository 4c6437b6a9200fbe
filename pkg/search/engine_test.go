package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

func testProfile(id, name, gender, location string, age int, skills ...string) *models.TalentProfile {
	return &models.TalentProfile{
		ID:       id,
		Name:     name,
		Age:      age,
		Gender:   gender,
		Location: location,
		Skills:   skills,
		Bio:      fmt.Sprintf("%s is a professional performer", name),
		Status:   models.TalentActive,
	}
}

// fixture builds an engine over the flat index and in-memory store with
// the local deterministic embedder
type fixture struct {
	engine *Engine
	store  *profiles.MemoryStore
	index  *vector.FlatIndex
	embed  *embedding.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := embedding.NewLocalProvider(64)
	svc := embedding.NewService(provider, nil, 32, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	index := vector.NewFlatIndex(64)
	store := profiles.NewMemoryStore()
	engine := NewEngine(svc, index, store, nil, DefaultWeights, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	return &fixture{engine: engine, store: store, index: index, embed: svc}
}

func (f *fixture) add(t *testing.T, p *models.TalentProfile) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, p))
	vec, err := f.embed.Embed(ctx, p.SearchableText())
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, vector.Entry{ID: p.ID, Vector: vec, Metadata: p.IndexMetadata()}))
}

func TestSearchRanksBySimilarityAndKeywords(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("sword", "Edda Stone", "female", "london", 30, "stage combat", "fencing"))
	f.add(t, testProfile("dance", "Mira Voss", "female", "london", 28, "ballet", "choreography"))
	f.add(t, testProfile("voice", "Tomas Hart", "male", "berlin", 45, "voice acting"))

	resp, err := f.engine.Search(context.Background(), Request{
		Query: "stage combat fencing performer",
		Criteria: Criteria{
			RequiredKeywords: []string{"fencing"},
		},
		K: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, "sword", resp.Results[0].ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 1.0, resp.Results[0].SubScores.Keyword)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Search(context.Background(), Request{Query: "anything", K: 0})
	assert.Error(t, err)

	_, err = f.engine.Search(context.Background(), Request{Query: "   ", K: 5})
	assert.Error(t, err)
}

func TestSearchHardAgeCut(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("young", "Ana Brook", "female", "london", 22, "acting"))
	f.add(t, testProfile("older", "Bea Crane", "female", "london", 55, "acting"))

	resp, err := f.engine.Search(context.Background(), Request{
		Query:    "acting performer",
		Criteria: Criteria{AgeMin: 20, AgeMax: 30},
		K:        10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "young", resp.Results[0].ID)
}

func TestSearchLocationIsSoft(t *testing.T) {
	f := newFixture(t)
	p := testProfile("remote", "Cal Deen", "male", "berlin", 35, "acting")
	f.add(t, p)

	// location mismatch must not exclude, only discount
	resp, err := f.engine.Search(context.Background(), Request{
		Query:    "acting performer",
		Criteria: Criteria{AgeMin: 30, AgeMax: 40},
		K:        10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	full := resp.Results[0].SubScores.Attribute

	f2 := newFixture(t)
	f2.add(t, p)
	resp2, err := f2.engine.Search(context.Background(), Request{
		Query:    "acting performer",
		Criteria: Criteria{AgeMin: 30, AgeMax: 40, Location: "berlin"},
		K:        10,
	})
	require.NoError(t, err)
	require.Len(t, resp2.Results, 1)
	assert.Equal(t, full, resp2.Results[0].SubScores.Attribute)
}

func TestBudgetOverlapBoundaries(t *testing.T) {
	p := &models.TalentProfile{ID: "t", Budget: &models.BudgetRange{Min: 400, Max: 800}}

	// disjoint below and above reject
	_, keep := budgetScore(p, 100, 300)
	assert.False(t, keep)
	_, keep = budgetScore(p, 900, 1200)
	assert.False(t, keep)

	// touching ranges overlap zero but are not disjoint
	score, keep := budgetScore(p, 800, 1000)
	assert.True(t, keep)
	assert.Equal(t, 0.0, score)

	// full containment saturates at 1
	score, keep = budgetScore(p, 300, 900)
	assert.True(t, keep)
	assert.Equal(t, 1.0, score)

	// partial overlap is overlap / narrower width
	score, keep = budgetScore(p, 600, 1000)
	assert.True(t, keep)
	assert.InDelta(t, 0.5, score, 1e-9)

	// no declared range scores neutral
	score, keep = budgetScore(&models.TalentProfile{ID: "n"}, 100, 200)
	assert.True(t, keep)
	assert.Equal(t, 0.5, score)
}

func TestSearchBudgetRejectsDisjoint(t *testing.T) {
	f := newFixture(t)
	cheap := testProfile("cheap", "Dot Early", "female", "london", 30, "acting")
	cheap.Budget = &models.BudgetRange{Min: 100, Max: 200}
	rich := testProfile("rich", "Eve Flint", "female", "london", 30, "acting")
	rich.Budget = &models.BudgetRange{Min: 500, Max: 900}
	f.add(t, cheap)
	f.add(t, rich)

	resp, err := f.engine.Search(context.Background(), Request{
		Query:    "acting performer",
		Criteria: Criteria{BudgetMin: 450, BudgetMax: 600},
		K:        10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "rich", resp.Results[0].ID)
}

type failingIndex struct{ vector.Index }

func (failingIndex) Search(context.Context, []float32, int, []vector.Filter) ([]vector.Match, error) {
	return nil, errors.New("index down")
}
func (failingIndex) Fetch(context.Context, string) (vector.Entry, error) {
	return vector.Entry{}, errors.New("index down")
}

func TestSearchDegradesToProfileScan(t *testing.T) {
	f := newFixture(t)
	p := testProfile("s1", "Gus Holt", "male", "london", 40, "stage combat")
	require.NoError(t, f.store.Create(context.Background(), p))

	engine := NewEngine(f.embed, failingIndex{}, f.store, nil, DefaultWeights, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	resp, err := engine.Search(context.Background(), Request{
		Query:    "stage combat",
		Criteria: Criteria{RequiredKeywords: []string{"combat"}},
		K:        5,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Degraded, DegradedVectorIndex)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "s1", resp.Results[0].ID)
}

type fixedAvailability struct {
	scores map[string]float64
	err    error
}

func (f fixedAvailability) Check(_ context.Context, id string, _ DateRange) (float64, AvailabilityStatus, error) {
	if f.err != nil {
		return 0, AvailabilityUnknown, f.err
	}
	s, ok := f.scores[id]
	if !ok {
		return 0.5, AvailabilityUnknown, nil
	}
	return s, AvailabilityAvailable, nil
}

func TestSearchAvailabilitySignal(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("free", "Hal Iris", "male", "london", 30, "acting"))
	f.add(t, testProfile("busy", "Ida June", "female", "london", 30, "acting"))

	avail := fixedAvailability{scores: map[string]float64{"free": 1.0, "busy": 0.0}}
	engine := NewEngine(f.embed, f.index, f.store, avail, DefaultWeights, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	window := &DateRange{From: time.Now(), To: time.Now().Add(48 * time.Hour)}
	resp, err := engine.Search(context.Background(), Request{
		Query:    "acting performer",
		Criteria: Criteria{Availability: window},
		K:        10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	byID := map[string]RankedResult{}
	for _, r := range resp.Results {
		byID[r.ID] = r
	}
	assert.Equal(t, 1.0, byID["free"].SubScores.Availability)
	assert.Equal(t, 0.0, byID["busy"].SubScores.Availability)
}

func TestSearchAvailabilityErrorDegrades(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("a", "Kit Lane", "male", "london", 30, "acting"))

	engine := NewEngine(f.embed, f.index, f.store, fixedAvailability{err: errors.New("scheduler down")}, DefaultWeights, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	window := &DateRange{From: time.Now(), To: time.Now().Add(time.Hour)}
	resp, err := engine.Search(context.Background(), Request{
		Query:    "acting",
		Criteria: Criteria{Availability: window},
		K:        5,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Degraded, DegradedAvailability)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0.5, resp.Results[0].SubScores.Availability)
}

func TestDiversityInjection(t *testing.T) {
	meta := func(age int, gender, loc string) map[string]interface{} {
		return map[string]interface{}{"age": age, "gender": gender, "location": loc}
	}
	results := []RankedResult{
		{ID: "a", CompositeScore: 0.95, Metadata: meta(31, "female", "london")},
		{ID: "b", CompositeScore: 0.85, Metadata: meta(33, "female", "london")},
		{ID: "c", CompositeScore: 0.80, Metadata: meta(35, "female", "london")},
		{ID: "d", CompositeScore: 0.75, Metadata: meta(52, "male", "paris")},
	}

	kept := injectDiversity(results)
	ids := make([]string, len(kept))
	for i, r := range kept {
		ids[i] = r.ID
	}
	// third london/female/30s entry is dropped, different bucket survives
	assert.Equal(t, []string{"a", "b", "d"}, ids)
}

func TestDiversityOverrideAboveBar(t *testing.T) {
	meta := map[string]interface{}{"age": 31, "gender": "female", "location": "london"}
	results := []RankedResult{
		{ID: "a", CompositeScore: 0.95, Metadata: meta},
		{ID: "b", CompositeScore: 0.93, Metadata: meta},
		{ID: "c", CompositeScore: 0.92, Metadata: meta},
	}
	kept := injectDiversity(results)
	assert.Len(t, kept, 3, "scores above the bar bypass the bucket cap")
}

func TestSimilarExcludesAnchor(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("a", "Lia Moss", "female", "london", 30, "stage combat", "fencing"))
	f.add(t, testProfile("b", "Nan Oak", "female", "london", 31, "stage combat", "fencing"))
	f.add(t, testProfile("c", "Ola Pym", "male", "berlin", 50, "voice acting"))

	resp, err := f.engine.Similar(context.Background(), "a", 2, true)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].ID)
	for _, r := range resp.Results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestSimilarCanKeepAnchor(t *testing.T) {
	f := newFixture(t)
	f.add(t, testProfile("a", "Lia Moss", "female", "london", 30, "stage combat", "fencing"))
	f.add(t, testProfile("b", "Nan Oak", "female", "london", 31, "stage combat", "fencing"))

	resp, err := f.engine.Similar(context.Background(), "a", 2, false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// the anchor ranks first against its own vector
	assert.Equal(t, "a", resp.Results[0].ID)
}

func TestKeywordScore(t *testing.T) {
	p := testProfile("x", "Pia Quin", "female", "london", 30, "fencing", "archery")
	assert.Equal(t, 1.0, keywordScore(p, []string{"fencing", "archery"}))
	assert.Equal(t, 0.5, keywordScore(p, []string{"fencing", "juggling"}))
	assert.Equal(t, 0.0, keywordScore(p, []string{"juggling"}))
	assert.Equal(t, 0.0, keywordScore(p, nil))
}
