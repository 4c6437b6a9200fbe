package nlp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/observability"
)

func newAnalyzer(t *testing.T, withEmbedder bool) *Analyzer {
	t.Helper()
	var svc *embedding.Service
	if withEmbedder {
		provider := embedding.NewLocalProvider(64)
		svc = embedding.NewService(provider, nil, 32, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	}
	return NewAnalyzer(svc, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func TestAnalyzeEmptyUtterance(t *testing.T) {
	a := newAnalyzer(t, false)
	_, err := a.Analyze(context.Background(), "   ", nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestIntentClassification(t *testing.T) {
	a := newAnalyzer(t, false)
	ctx := context.Background()

	cases := []struct {
		text string
		want Intent
	}{
		{"find me an actress in her thirties who can do stage combat", IntentSearchTalent},
		{"show me the full profile for Maria Santos", IntentViewProfile},
		{"schedule an audition for next tuesday", IntentScheduleAudition},
		{"analyze this script and break down the characters", IntentAnalyzeScript},
		{"is Maria Santos available next week", IntentCheckAvailability},
		{"what is her day rate, can we afford $500 per day", IntentDiscussBudget},
		{"recommend someone for the villain role", IntentRecommendation},
		{"compare Maria Santos versus Anna Lee", IntentCompareTalents},
		{"let's negotiate the contract terms before we sign", IntentContractNegotiation},
		{"my feedback on the audition: she was excellent", IntentFeedback},
		{"i cannot log in, the upload page is broken", IntentTechnicalSupport},
	}
	for _, tc := range cases {
		got, err := a.Analyze(ctx, tc.text, nil)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.want, got.Intent, tc.text)
		assert.Greater(t, got.Confidence, 0.0)
	}
}

func TestKeywordRatioScalesWithListSize(t *testing.T) {
	cfg := intentConfig{
		keywords: []string{"find", "search", "looking for", "need", "actor", "actress", "talent", "performer", "cast"},
	}
	score := patternScore("find me an actress for the part", cfg, nil)
	// two of nine keywords match; the component is proportional, not capped
	assert.InDelta(t, kwWeight*2.0/9.0, score, 1e-9)
}

func TestGeneralInquiryFallback(t *testing.T) {
	a := newAnalyzer(t, false)

	got, err := a.Analyze(context.Background(), "the quick brown fox jumps over", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentGeneralInquiry, got.Intent)
	assert.Equal(t, generalInquiryScore, got.Confidence)
}

func TestEmbeddingFallbackEngages(t *testing.T) {
	a := newAnalyzer(t, true)

	// no intent keywords, but lexically close to search examples
	got, err := a.Analyze(context.Background(), "someone tall with stage combat experience based in london", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Intent)
	assert.GreaterOrEqual(t, got.Confidence, 0.0)
}

func TestExtractAgeRange(t *testing.T) {
	ents := ExtractEntities("looking for actors 25-30 years old", nil)
	require.NotEmpty(t, ents)
	found := false
	for _, e := range ents {
		if e.Type == EntityAge {
			assert.Equal(t, "25-30", e.Value)
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractAgeExactWidens(t *testing.T) {
	ents := ExtractEntities("she should be aged 28", nil)
	var got string
	for _, e := range ents {
		if e.Type == EntityAge {
			got = e.Value
		}
	}
	assert.Equal(t, "26-30", got)
}

func TestExtractAgeDecade(t *testing.T) {
	ents := ExtractEntities("an actress in her thirties", nil)
	var got string
	for _, e := range ents {
		if e.Type == EntityAge {
			got = e.Value
		}
	}
	assert.Equal(t, "30-40", got)
}

func TestExtractGender(t *testing.T) {
	female := ExtractEntities("find an actress for the lead", nil)
	assert.Equal(t, "female", entityValue(female, EntityGender))

	weakMale := ExtractEntities("find an actor for the lead", nil)
	for _, e := range weakMale {
		if e.Type == EntityGender {
			assert.Equal(t, "male", e.Value)
			assert.Equal(t, 0.5, e.Confidence, "bare actor is weak evidence")
		}
	}

	strongMale := ExtractEntities("a male performer in his forties", nil)
	for _, e := range strongMale {
		if e.Type == EntityGender {
			assert.Equal(t, "male", e.Value)
			assert.Equal(t, 0.9, e.Confidence)
		}
	}
}

func TestExtractGazetteers(t *testing.T) {
	ents := ExtractEntities("a french speaker in london who can do stage combat", nil)

	assert.Equal(t, "london", entityValue(ents, EntityLocation))
	assert.Equal(t, "french", entityValue(ents, EntityLanguage))
	assert.Equal(t, "stage combat", entityValue(ents, EntitySkill))
}

func TestExtractBudget(t *testing.T) {
	ents := ExtractEntities("we can pay $1,500 per day", nil)
	assert.Equal(t, "1500", entityValue(ents, EntityBudget))
}

func TestExtractDates(t *testing.T) {
	ents := ExtractEntities("can she make it next week or on 2026-03-15", nil)

	values := map[string]bool{}
	for _, e := range ents {
		if e.Type == EntityDate {
			values[e.Value] = true
		}
	}
	assert.True(t, values["next week"])
	assert.True(t, values["2026-03-15"])
}

func TestExtractNames(t *testing.T) {
	ents := ExtractEntities("compare Maria Santos with the other candidates", nil)
	assert.Equal(t, "Maria Santos", entityValue(ents, EntityName))
}

func TestHistoryEntitiesDiscountedNotOverriding(t *testing.T) {
	history := []Entity{
		{Type: EntityLocation, Value: "paris", Confidence: 0.9},
		{Type: EntityGender, Value: "female", Confidence: 0.9},
	}
	ents := ExtractEntities("now search in london instead", history)

	// fresh location wins; no carryover of the stale one
	assert.Equal(t, "london", entityValue(ents, EntityLocation))
	for _, e := range ents {
		if e.Type == EntityLocation {
			assert.NotEqual(t, "paris", e.Value)
		}
	}

	// gender has no fresh extraction, so history carries at reduced weight
	var gender Entity
	for _, e := range ents {
		if e.Type == EntityGender {
			gender = e
		}
	}
	assert.Equal(t, "female", gender.Value)
	assert.InDelta(t, 0.9*historyWeight, gender.Confidence, 1e-9)
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	ents := dedupeEntities([]Entity{
		{Type: EntitySkill, Value: "singing", Confidence: 0.5},
		{Type: EntitySkill, Value: "singing", Confidence: 0.85},
		{Type: EntitySkill, Value: "dancing", Confidence: 0.85},
	})
	require.Len(t, ents, 2)
	assert.Equal(t, 0.85, ents[0].Confidence)
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, SentimentPositive, ClassifySentiment("she was excellent, we loved the reading"))
	assert.Equal(t, SentimentNegative, ClassifySentiment("that audition was terrible and disappointing"))
	assert.Equal(t, SentimentNeutral, ClassifySentiment("schedule the callback for tuesday"))
}

func TestUrgency(t *testing.T) {
	assert.Equal(t, UrgencyHigh, ClassifyUrgency("we need a replacement asap"))
	assert.Equal(t, UrgencyMedium, ClassifyUrgency("please send the shortlist soon"))
	assert.Equal(t, UrgencyMedium, ClassifyUrgency("send it!! now!!"))
	assert.Equal(t, UrgencyLow, ClassifyUrgency("whenever you get a chance"))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, DomainFilm, ClassifyDomain("casting for a feature film"))
	assert.Equal(t, DomainTelevision, ClassifyDomain("the pilot episode of our series"))
	assert.Equal(t, DomainTheater, ClassifyDomain("a broadway musical revival"))
	assert.Equal(t, DomainVoice, ClassifyDomain("audiobook narration work"))
	assert.Equal(t, DomainGeneral, ClassifyDomain("hello there"))
}

func TestAnalysisEntityValue(t *testing.T) {
	a := &Analysis{Entities: []Entity{
		{Type: EntityLocation, Value: "london", Confidence: 0.6},
		{Type: EntityLocation, Value: "paris", Confidence: 0.9},
	}}
	assert.Equal(t, "paris", a.EntityValue(EntityLocation))
	assert.Equal(t, "", a.EntityValue(EntityBudget))
}

func entityValue(entities []Entity, t EntityType) string {
	best := ""
	conf := -1.0
	for _, e := range entities {
		if e.Type == t && e.Confidence > conf {
			best = e.Value
			conf = e.Confidence
		}
	}
	return best
}
