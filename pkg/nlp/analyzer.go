package nlp

import (
	"context"
	"strings"
	"sync"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/observability"
)

// Analyzer runs the intent cascade and slot extraction. The embedder is
// optional; without it the cascade stops after pattern scoring.
type Analyzer struct {
	embedder *embedding.Service
	logger   observability.Logger
	metrics  observability.MetricsClient

	centroidOnce sync.Once
	centroids    map[Intent][]float32
	centroidErr  error
}

// NewAnalyzer creates an analyzer; embedder may be nil
func NewAnalyzer(embedder *embedding.Service, logger observability.Logger, metrics observability.MetricsClient) *Analyzer {
	return &Analyzer{embedder: embedder, logger: logger, metrics: metrics}
}

// Analyze classifies one utterance. history carries entities from
// earlier turns in the conversation.
func (a *Analyzer) Analyze(ctx context.Context, text string, history []Entity) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "empty utterance")
	}

	entities := ExtractEntities(text, history)
	intent, confidence := a.classify(ctx, text, entities)

	a.metrics.IncrementCounterWithLabels("nlp_intents_total", 1, map[string]string{"intent": string(intent)})

	return &Analysis{
		Intent:     intent,
		Confidence: confidence,
		Entities:   entities,
		Sentiment:  ClassifySentiment(text),
		Urgency:    ClassifyUrgency(text),
		Domain:     ClassifyDomain(text),
	}, nil
}

// classify runs the ordered cascade: pattern scoring, then embedding
// centroids, then the general-inquiry floor
func (a *Analyzer) classify(ctx context.Context, text string, entities []Entity) (Intent, float64) {
	lower := strings.ToLower(text)

	bestIntent := IntentGeneralInquiry
	bestScore := 0.0
	for intent, cfg := range intentTable {
		score := patternScore(lower, cfg, entities)
		if score > bestScore || (score == bestScore && intent < bestIntent) {
			bestIntent = intent
			bestScore = score
		}
	}

	if bestScore >= embeddingFallbackBelow {
		return bestIntent, clamp01(bestScore)
	}

	if a.embedder != nil {
		if intent, score, err := a.centroidClassify(ctx, text); err == nil && score > bestScore {
			bestIntent, bestScore = intent, score
		}
	}

	if bestScore < generalInquiryBelow {
		return IntentGeneralInquiry, generalInquiryScore
	}
	return bestIntent, clamp01(bestScore)
}

// patternScore = 0.4·keyword ratio + 0.3·entity ratio + 0.3·regex ratio
func patternScore(lower string, cfg intentConfig, entities []Entity) float64 {
	var kwRatio float64
	if len(cfg.keywords) > 0 {
		matched := 0
		for _, kw := range cfg.keywords {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		kwRatio = float64(matched) / float64(len(cfg.keywords))
	}

	var entityRatio float64
	if len(cfg.entityTypes) > 0 {
		present := make(map[EntityType]bool, len(entities))
		for _, e := range entities {
			present[e.Type] = true
		}
		matched := 0
		for _, t := range cfg.entityTypes {
			if present[t] {
				matched++
			}
		}
		entityRatio = float64(matched) / float64(len(cfg.entityTypes))
	}

	var regexRatio float64
	if len(cfg.regexes) > 0 {
		matched := 0
		for _, re := range cfg.regexes {
			if re.MatchString(lower) {
				matched++
			}
		}
		if matched > 0 {
			regexRatio = 1
		}
	}

	return kwWeight*kwRatio + entityWeight*entityRatio + regexWeight*regexRatio
}

// centroidClassify compares the utterance embedding to each intent's
// example centroid
func (a *Analyzer) centroidClassify(ctx context.Context, text string) (Intent, float64, error) {
	if err := a.buildCentroids(ctx); err != nil {
		return IntentGeneralInquiry, 0, err
	}

	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return IntentGeneralInquiry, 0, err
	}

	best := IntentGeneralInquiry
	bestSim := -1.0
	for intent, centroid := range a.centroids {
		sim := embedding.CosineSimilarity(vec, centroid)
		if sim > bestSim || (sim == bestSim && intent < best) {
			best = intent
			bestSim = sim
		}
	}
	return best, clamp01(bestSim), nil
}

// buildCentroids embeds every intent's example set once
func (a *Analyzer) buildCentroids(ctx context.Context) error {
	a.centroidOnce.Do(func() {
		centroids := make(map[Intent][]float32, len(intentTable))
		for intent, cfg := range intentTable {
			if len(cfg.examples) == 0 {
				continue
			}
			vecs, err := a.embedder.EmbedBatch(ctx, cfg.examples)
			if err != nil {
				a.centroidErr = err
				return
			}
			centroid := make([]float32, a.embedder.Dimensions())
			for _, v := range vecs {
				for i := range v {
					centroid[i] += v[i]
				}
			}
			embedding.Normalize(centroid)
			centroids[intent] = centroid
		}
		a.centroids = centroids
	})
	return a.centroidErr
}

var positiveWords = []string{
	"great", "excellent", "perfect", "love", "loved", "impressive",
	"wonderful", "fantastic", "amazing", "thanks", "thank you", "brilliant",
}

var negativeWords = []string{
	"bad", "terrible", "awful", "disappointing", "disappointed", "hate",
	"wrong", "poor", "unacceptable", "frustrated", "useless", "worst",
}

func ClassifySentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return SentimentPositive
	case score < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

var urgentWords = []string{
	"asap", "urgent", "urgently", "immediately", "right away", "today",
	"emergency", "deadline",
}

var soonWords = []string{
	"soon", "this week", "quickly", "shortly", "by friday",
}

func ClassifyUrgency(text string) Urgency {
	lower := strings.ToLower(text)
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			return UrgencyHigh
		}
	}
	for _, w := range soonWords {
		if strings.Contains(lower, w) {
			return UrgencyMedium
		}
	}
	if strings.Count(text, "!") >= 2 {
		return UrgencyMedium
	}
	return UrgencyLow
}

var domainKeywords = map[Domain][]string{
	DomainFilm:       {"film", "movie", "feature", "cinema", "screenplay"},
	DomainTelevision: {"series", "episode", "tv", "television", "pilot", "season"},
	DomainTheater:    {"theater", "theatre", "stage", "play", "musical", "broadway"},
	DomainCommercial: {"commercial", "advert", "ad campaign", "brand"},
	DomainVoice:      {"voice over", "voiceover", "audiobook", "dubbing", "narration"},
}

func ClassifyDomain(text string) Domain {
	lower := strings.ToLower(text)
	best := DomainGeneral
	bestHits := 0
	for domain, words := range domainKeywords {
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && domain < best) {
			best = domain
			bestHits = hits
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
