package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/search"
)

func newEngineWith(t *testing.T, ps ...*models.TalentProfile) *Engine {
	t.Helper()
	store := profiles.NewMemoryStore()
	for _, p := range ps {
		require.NoError(t, store.Create(context.Background(), p))
	}
	return NewEngine(store, nil, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func result(id string, composite float64) search.RankedResult {
	return search.RankedResult{
		ID:             id,
		CompositeScore: composite,
		SubScores:      search.SubScores{Availability: 0.5},
		Metadata:       map[string]interface{}{"age": 30, "gender": "female", "location": "london"},
	}
}

func TestChemistryCacheSymmetric(t *testing.T) {
	c := NewChemistryCache()
	c.Set("a", "b", 0.9)
	assert.Equal(t, 0.9, c.Get("a", "b"))
	assert.Equal(t, 0.9, c.Get("b", "a"))
	assert.Equal(t, 0.5, c.Get("a", "c"), "unknown pairs default to 0.5")
}

func TestChemistryMean(t *testing.T) {
	c := NewChemistryCache()
	c.Set("x", "cast1", 1.0)
	c.Set("x", "cast2", 0.0)
	assert.Equal(t, 0.5, c.Mean("x", []string{"cast1", "cast2"}))
	assert.Equal(t, 0.5, c.Mean("x", nil), "empty cast defaults to 0.5")
}

func TestBaseWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range baseWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestEffectiveWeightsSumToOneWithExtras(t *testing.T) {
	cases := []map[string]float64{
		{FactorRelevance: 1},
		{FactorRelevance: 1, FactorPreference: 1},
		{FactorRelevance: 1, FactorPerformance: 1},
		{FactorRelevance: 1, FactorPreference: 1, FactorPerformance: 1},
	}
	for _, factors := range cases {
		weights := effectiveWeights(factors)
		var sum float64
		for _, w := range weights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestExtrasReplaceLowestFactors(t *testing.T) {
	weights := effectiveWeights(map[string]float64{FactorPreference: 1, FactorPerformance: 1})
	_, hasDiversity := weights[FactorDiversity]
	_, hasChemistry := weights[FactorChemistry]
	assert.False(t, hasDiversity)
	assert.False(t, hasChemistry)
	assert.InDelta(t, 0.075, weights[FactorPreference], 1e-9)
	assert.InDelta(t, 0.075, weights[FactorPerformance], 1e-9)
}

func TestRankOrdersByFinalScore(t *testing.T) {
	experienced := &models.TalentProfile{
		ID: "vet", Name: "Vera Vet", ExperienceYears: 25, Awards: 6, ProjectCount: 40,
		Followers: 2_000_000, Rating: 4.8, LastProjectAt: time.Now().Add(-30 * 24 * time.Hour),
		Status: models.TalentActive,
	}
	newcomer := &models.TalentProfile{
		ID: "new", Name: "Nia New", ExperienceYears: 1,
		LastProjectAt: time.Now().Add(-800 * 24 * time.Hour),
		Status:        models.TalentActive,
	}
	e := newEngineWith(t, experienced, newcomer)

	ranked := e.Rank(context.Background(), []search.RankedResult{
		result("new", 0.7),
		result("vet", 0.7),
	}, Preferences{}, ProjectContext{})

	require.Len(t, ranked, 2)
	assert.Equal(t, "vet", ranked[0].ID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Greater(t, ranked[0].FinalScore, ranked[1].FinalScore)
}

func TestRankChemistryInfluence(t *testing.T) {
	a := &models.TalentProfile{ID: "a", Name: "A", Status: models.TalentActive}
	b := &models.TalentProfile{ID: "b", Name: "B", Status: models.TalentActive}
	e := newEngineWith(t, a, b)
	e.Chemistry().Set("a", "lead", 1.0)
	e.Chemistry().Set("b", "lead", 0.0)

	ranked := e.Rank(context.Background(), []search.RankedResult{
		result("a", 0.5),
		result("b", 0.5),
	}, Preferences{}, ProjectContext{CastIDs: []string{"lead"}})

	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, 1.0, ranked[0].Factors[FactorChemistry])
	assert.Equal(t, 0.0, ranked[1].Factors[FactorChemistry])
}

func TestRankPreferenceBoost(t *testing.T) {
	liked := &models.TalentProfile{ID: "liked", Name: "L", Location: "london", Status: models.TalentActive}
	other := &models.TalentProfile{ID: "other", Name: "O", Location: "paris", Status: models.TalentActive}
	e := newEngineWith(t, liked, other)

	prefs := Preferences{LikedIDs: []string{"liked"}, PreferredLocations: []string{"london"}}
	ranked := e.Rank(context.Background(), []search.RankedResult{
		result("other", 0.5),
		result("liked", 0.5),
	}, prefs, ProjectContext{})

	require.Len(t, ranked, 2)
	assert.Equal(t, "liked", ranked[0].ID)
	assert.Equal(t, 1.0, ranked[0].Factors[FactorPreference])
}

func TestRecencyPiecewiseDecay(t *testing.T) {
	e := newEngineWith(t)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	at := func(daysAgo int) *models.TalentProfile {
		return &models.TalentProfile{LastProjectAt: base.Add(-time.Duration(daysAgo) * 24 * time.Hour)}
	}
	assert.Equal(t, 1.0, e.recencyScore(at(30)))
	assert.Equal(t, 0.8, e.recencyScore(at(120)))
	assert.Equal(t, 0.6, e.recencyScore(at(300)))
	assert.Equal(t, 0.4, e.recencyScore(at(700)))
	assert.Equal(t, 0.2, e.recencyScore(at(1000)))
	assert.Equal(t, 0.5, e.recencyScore(&models.TalentProfile{}))
}

func TestPerformanceBoostPresence(t *testing.T) {
	_, ok := performanceBoost(&models.TalentProfile{Rating: 3.0})
	assert.False(t, ok, "no signal, factor absent")

	boost, ok := performanceBoost(&models.TalentProfile{Trending: true, Rating: 4.9, Awards: 5})
	assert.True(t, ok)
	assert.Greater(t, boost, 0.5)
}

func TestExplanationStableAndTopThree(t *testing.T) {
	factors := map[string]float64{
		FactorRelevance:    0.9,
		FactorExperience:   0.8,
		FactorPopularity:   0.1,
		FactorRecency:      0.1,
		FactorAvailability: 0.9,
		FactorChemistry:    0.1,
		FactorDiversity:    0.1,
	}
	weights := effectiveWeights(factors)

	first := explain(factors, weights)
	second := explain(factors, weights)
	assert.Equal(t, first, second)
	assert.Contains(t, first, explanationTemplates[FactorRelevance])
	assert.Contains(t, first, explanationTemplates[FactorAvailability])
	assert.Contains(t, first, explanationTemplates[FactorExperience])
	assert.NotContains(t, first, explanationTemplates[FactorPopularity])
}
