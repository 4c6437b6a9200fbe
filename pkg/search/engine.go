package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/vector"
)

const (
	// candidates pulled from the vector index before overlay stages
	retrievalK = 100
	// per-stage budgets
	embedTimeout  = 2 * time.Second
	vectorTimeout = 500 * time.Millisecond
	// diversity bucket cap unless the score clears the override bar
	diversityCap      = 2
	diversityOverride = 0.9
)

// Engine runs the hybrid pipeline
type Engine struct {
	embedder     *embedding.Service
	index        vector.Index
	store        profiles.Store
	availability AvailabilityProvider
	weights      Weights
	logger       observability.Logger
	metrics      observability.MetricsClient
}

// NewEngine wires the pipeline. availability may be nil; that signal then
// defaults to 0.5 for every candidate.
func NewEngine(embedder *embedding.Service, index vector.Index, store profiles.Store, availability AvailabilityProvider, weights Weights, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Engine{
		embedder:     embedder,
		index:        index,
		store:        store,
		availability: availability,
		weights:      weights,
		logger:       logger,
		metrics:      metrics,
	}
}

// candidate is a profile moving through the pipeline
type candidate struct {
	profile *models.TalentProfile
	scores  SubScores
}

// Search runs the six-stage pipeline and returns up to req.K results
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if req.K <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "k must be positive")
	}
	if strings.TrimSpace(req.Query) == "" && len(req.Criteria.RequiredKeywords) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "query or required keywords must be provided")
	}
	start := time.Now()
	var degraded []string

	// stage 1: semantic retrieval, with keyword / scan fallbacks
	cands, deg := e.retrieve(ctx, req)
	degraded = append(degraded, deg...)

	// stage 2: keyword overlay
	for i := range cands {
		cands[i].scores.Keyword = keywordScore(cands[i].profile, req.Criteria.RequiredKeywords)
	}

	// stage 3: attribute filtering (hard range cuts, soft location)
	filtered := cands[:0]
	for _, c := range cands {
		score, keep := attributeScore(c.profile, req.Criteria)
		if !keep {
			continue
		}
		c.scores.Attribute = score
		filtered = append(filtered, c)
	}
	cands = filtered

	// stage 4: availability
	if avDeg := e.applyAvailability(ctx, cands, req.Criteria.Availability); avDeg {
		degraded = append(degraded, DegradedAvailability)
	}

	// stage 5: budget overlap, disjoint ranges reject
	if req.Criteria.HasBudget() {
		kept := cands[:0]
		for _, c := range cands {
			score, keep := budgetScore(c.profile, req.Criteria.BudgetMin, req.Criteria.BudgetMax)
			if !keep {
				continue
			}
			c.scores.Budget = score
			kept = append(kept, c)
		}
		cands = kept
	} else {
		for i := range cands {
			cands[i].scores.Budget = 0.5
		}
	}

	// stage 6: fusion, ordering, diversity injection
	results := e.fuse(cands, req.K)

	took := time.Since(start)
	e.metrics.RecordTimer("search_pipeline_seconds", took, map[string]string{
		"degraded": fmt.Sprintf("%t", len(degraded) > 0),
	})
	return &Response{Results: results, Degraded: degraded, Took: took}, nil
}

// Similar returns profiles nearest to an already-indexed talent
func (e *Engine) Similar(ctx context.Context, talentID string, k int, excludeSelf bool) (*Response, error) {
	if k <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "k must be positive")
	}
	start := time.Now()

	entry, err := e.index.Fetch(ctx, talentID)
	if err != nil {
		return nil, err
	}

	// k+1 because the anchor itself comes back as the best match
	matches, err := e.index.Search(ctx, entry.Vector, k+1, nil)
	if err != nil {
		return nil, err
	}

	results := make([]RankedResult, 0, k)
	for _, m := range matches {
		if excludeSelf && m.ID == talentID {
			continue
		}
		score := clamp01((m.Score + 1) / 2)
		results = append(results, RankedResult{
			ID:             m.ID,
			CompositeScore: score,
			SubScores:      SubScores{Semantic: score},
			Metadata:       m.Metadata,
		})
		if len(results) == k {
			break
		}
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return &Response{Results: results, Took: time.Since(start)}, nil
}

// retrieve performs stage 1 and its fallbacks, returning candidates with
// Semantic populated
func (e *Engine) retrieve(ctx context.Context, req Request) ([]candidate, []string) {
	var degraded []string

	queryVec, err := e.embedQuery(ctx, req.Query)
	if err != nil {
		e.logger.Warn("semantic stage degraded, embedding failed", map[string]interface{}{"error": err.Error()})
		degraded = append(degraded, DegradedSemantic)
		return e.scanCandidates(ctx, req, &degraded), degraded
	}

	vctx, cancel := context.WithTimeout(ctx, vectorTimeout)
	defer cancel()
	matches, err := e.index.Search(vctx, queryVec, retrievalK, criteriaFilters(req.Criteria))
	if err != nil {
		e.logger.Warn("vector index unavailable, falling back to profile scan", map[string]interface{}{"error": err.Error()})
		degraded = append(degraded, DegradedVectorIndex)
		return e.scanCandidates(ctx, req, &degraded), degraded
	}

	// min-max normalise raw cosine scores over this result set
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, m := range matches {
		lo = math.Min(lo, m.Score)
		hi = math.Max(hi, m.Score)
	}

	cands := make([]candidate, 0, len(matches))
	for _, m := range matches {
		profile, err := e.store.Get(ctx, m.ID)
		if err != nil {
			profile = profileFromMetadata(m.ID, m.Metadata)
		}
		sem := 1.0
		if hi > lo {
			sem = (m.Score - lo) / (hi - lo)
		}
		cands = append(cands, candidate{profile: profile, scores: SubScores{Semantic: sem}})
	}
	return cands, degraded
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "empty query")
	}
	ectx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	return e.embedder.Embed(ectx, query)
}

// scanCandidates is the degraded path: pull active profiles from the
// store and score them by keyword overlap alone
func (e *Engine) scanCandidates(ctx context.Context, req Request, degraded *[]string) []candidate {
	list, err := e.store.List(ctx, profiles.ListOptions{
		Status:   models.TalentActive,
		Location: req.Criteria.Location,
	})
	if err != nil {
		e.logger.Error("profile scan fallback failed", map[string]interface{}{"error": err.Error()})
		*degraded = append(*degraded, DegradedProfiles)
		return nil
	}

	keywords := req.Criteria.RequiredKeywords
	if len(keywords) == 0 {
		keywords = strings.Fields(strings.ToLower(req.Query))
	}

	cands := make([]candidate, 0, len(list))
	for _, p := range list {
		kw := keywordScore(p, keywords)
		if kw == 0 && len(keywords) > 0 {
			continue
		}
		// no semantic signal on this path; neutral 0.5 keeps fusion sane
		cands = append(cands, candidate{profile: p, scores: SubScores{Semantic: 0.5}})
	}
	return cands
}

func (e *Engine) applyAvailability(ctx context.Context, cands []candidate, window *DateRange) bool {
	if window == nil || e.availability == nil {
		for i := range cands {
			cands[i].scores.Availability = 0.5
		}
		return false
	}

	degraded := false
	for i := range cands {
		score, _, err := e.availability.Check(ctx, cands[i].profile.ID, *window)
		if err != nil {
			cands[i].scores.Availability = 0.5
			degraded = true
			continue
		}
		cands[i].scores.Availability = clamp01(score)
	}
	return degraded
}

// fuse computes composite scores, orders with tie-breaks, applies
// diversity injection and truncates to k
func (e *Engine) fuse(cands []candidate, k int) []RankedResult {
	results := make([]RankedResult, 0, len(cands))
	for _, c := range cands {
		attr := (c.scores.Attribute + c.scores.Availability + c.scores.Budget) / 3
		composite := e.weights.Semantic*c.scores.Semantic +
			e.weights.Keyword*c.scores.Keyword +
			e.weights.Attr*attr
		results = append(results, RankedResult{
			ID:             c.profile.ID,
			CompositeScore: clamp01(composite),
			SubScores:      c.scores,
			Metadata:       c.profile.IndexMetadata(),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompositeScore != results[j].CompositeScore {
			return results[i].CompositeScore > results[j].CompositeScore
		}
		if results[i].SubScores.Semantic != results[j].SubScores.Semantic {
			return results[i].SubScores.Semantic > results[j].SubScores.Semantic
		}
		if results[i].SubScores.Keyword != results[j].SubScores.Keyword {
			return results[i].SubScores.Keyword > results[j].SubScores.Keyword
		}
		return results[i].ID < results[j].ID
	})

	results = injectDiversity(results)

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// injectDiversity walks the sorted list and drops results whose
// (age bucket, gender, location) combination is already represented
// diversityCap times, unless the score clears the override bar
func injectDiversity(results []RankedResult) []RankedResult {
	seen := make(map[string]int)
	kept := results[:0]
	for _, r := range results {
		key := diversityKey(r.Metadata)
		if seen[key] < diversityCap || r.CompositeScore > diversityOverride {
			seen[key]++
			kept = append(kept, r)
		}
	}
	return kept
}

func diversityKey(meta map[string]interface{}) string {
	age := 0
	if v, ok := meta["age"]; ok {
		if n, ok := toFloat(v); ok {
			age = int(n)
		}
	}
	gender, _ := meta["gender"].(string)
	location, _ := meta["location"].(string)
	return fmt.Sprintf("%d|%s|%s", ageBucket(age), gender, location)
}

// ageBucket groups ages into decade bands
func ageBucket(age int) int {
	if age <= 0 {
		return -1
	}
	return age / 10
}

// keywordScore counts required-keyword occurrences in the canonical
// searchable text
func keywordScore(p *models.TalentProfile, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	text := p.SearchableText()
	matches := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			matches++
		}
	}
	return float64(matches) / math.Max(1, float64(len(keywords)))
}

// attributeScore applies the hard range cuts and returns the soft score.
// keep=false means the candidate is rejected outright.
func attributeScore(p *models.TalentProfile, c Criteria) (float64, bool) {
	score := 1.0
	ranged := false

	if c.AgeMin > 0 || c.AgeMax > 0 {
		lo, hi := float64(c.AgeMin), float64(c.AgeMax)
		if hi == 0 {
			hi = 200
		}
		if float64(p.Age) < lo || float64(p.Age) > hi {
			return 0, false
		}
		score *= rangeProximity(float64(p.Age), lo, hi)
		ranged = true
	}

	if c.HeightMinCM > 0 || c.HeightMaxCM > 0 {
		lo, hi := c.HeightMinCM, c.HeightMaxCM
		if hi == 0 {
			hi = 300
		}
		if p.HeightCM > 0 {
			if p.HeightCM < lo || p.HeightCM > hi {
				return 0, false
			}
			score *= rangeProximity(p.HeightCM, lo, hi)
			ranged = true
		}
	}

	if !ranged {
		score = 1.0
	}

	// location mismatch is a soft multiplier, never a cut
	if c.Location != "" && !strings.EqualFold(p.Location, c.Location) {
		score *= 0.5
	}
	return clamp01(score), true
}

// rangeProximity is 1 at the range midpoint, shrinking linearly to 0.5 at
// either edge
func rangeProximity(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	return 1 - 0.5*math.Abs(v-mid)/half
}

// budgetScore computes overlap of the talent's range with the ask.
// Disjoint ranges reject; a talent with no declared range scores 0.5.
func budgetScore(p *models.TalentProfile, qmin, qmax float64) (float64, bool) {
	if p.Budget == nil {
		return 0.5, true
	}
	tmin, tmax := p.Budget.Min, p.Budget.Max
	overlap := math.Min(tmax, qmax) - math.Max(tmin, qmin)
	if overlap < 0 {
		return 0, false
	}
	span := math.Min(tmax-tmin, qmax-qmin)
	if span <= 0 {
		return 1, true
	}
	return clamp01(overlap / span), true
}

// criteriaFilters derives vector-index metadata filters from the
// structured criteria
func criteriaFilters(c Criteria) []vector.Filter {
	var fs []vector.Filter
	if c.Gender != "" {
		fs = append(fs, vector.Eq("gender", strings.ToLower(c.Gender)))
	}
	if c.Location != "" {
		fs = append(fs, vector.Eq("location", strings.ToLower(c.Location)))
	}
	fs = append(fs, vector.Eq("status", string(models.TalentActive)))
	return fs
}

func profileFromMetadata(id string, meta map[string]interface{}) *models.TalentProfile {
	p := &models.TalentProfile{ID: id, Status: models.TalentActive}
	if v, ok := meta["name"].(string); ok {
		p.Name = v
	}
	if v, ok := meta["gender"].(string); ok {
		p.Gender = v
	}
	if v, ok := meta["location"].(string); ok {
		p.Location = v
	}
	if v, ok := meta["age"]; ok {
		if n, ok := toFloat(v); ok {
			p.Age = int(n)
		}
	}
	if v, ok := meta["height_cm"]; ok {
		if n, ok := toFloat(v); ok {
			p.HeightCM = n
		}
	}
	if v, ok := meta["skills"].([]string); ok {
		p.Skills = v
	}
	if v, ok := meta["languages"].([]string); ok {
		p.Languages = v
	}
	if bmin, ok := toFloatKey(meta, "budget_min"); ok {
		if bmax, ok2 := toFloatKey(meta, "budget_max"); ok2 {
			p.Budget = &models.BudgetRange{Min: bmin, Max: bmax}
		}
	}
	return p
}

func toFloatKey(meta map[string]interface{}, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
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
