// Package ranking personalises hybrid-search results: nine bounded
// factors combined under a fixed weight table, with templated
// explanations derived from the strongest contributions.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/search"
)

// Factor names, also used as explanation template keys
const (
	FactorRelevance    = "relevance"
	FactorExperience   = "experience"
	FactorPopularity   = "popularity"
	FactorRecency      = "recency"
	FactorAvailability = "availability"
	FactorChemistry    = "chemistry"
	FactorDiversity    = "diversity"
	FactorPreference   = "preference"
	FactorPerformance  = "performance_boost"
)

// baseWeights is the production weight table; it sums to 1
var baseWeights = map[string]float64{
	FactorRelevance:    0.35,
	FactorExperience:   0.15,
	FactorPopularity:   0.10,
	FactorRecency:      0.10,
	FactorAvailability: 0.15,
	FactorChemistry:    0.10,
	FactorDiversity:    0.05,
}

// the two lowest-weighted base factors; preference and performance-boost
// take over their shares when present
var substitutable = []string{FactorDiversity, FactorChemistry}

var explanationTemplates = map[string]string{
	FactorRelevance:    "Strong match with search criteria",
	FactorExperience:   "Extensive industry experience",
	FactorPopularity:   "High audience following",
	FactorRecency:      "Recently active on projects",
	FactorAvailability: "Available in the requested window",
	FactorChemistry:    "Proven chemistry with the existing cast",
	FactorDiversity:    "Adds diversity to the shortlist",
	FactorPreference:   "Matches your stated preferences",
	FactorPerformance:  "Award-winning talent on a hot streak",
}

// Preferences is the user's stored taste profile
type Preferences struct {
	TopGenres          []string `json:"top_genres,omitempty"`
	PreferredLocations []string `json:"preferred_locations,omitempty"`
	LikedIDs           []string `json:"liked_ids,omitempty"`
}

func (p Preferences) empty() bool {
	return len(p.TopGenres) == 0 && len(p.PreferredLocations) == 0 && len(p.LikedIDs) == 0
}

// ProjectContext describes the production being cast for
type ProjectContext struct {
	CastIDs []string `json:"cast_ids,omitempty"`
}

// Ranked is a search result with its personalised score and the factor
// breakdown that produced it
type Ranked struct {
	search.RankedResult
	FinalScore  float64            `json:"final_score"`
	Factors     map[string]float64 `json:"factors"`
	Explanation string             `json:"explanation"`
}

// Engine computes personalised rankings
type Engine struct {
	store     profiles.Store
	chemistry *ChemistryCache
	logger    observability.Logger
	metrics   observability.MetricsClient
	now       func() time.Time
}

// NewEngine creates a ranking engine over the profile store
func NewEngine(store profiles.Store, chemistry *ChemistryCache, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	if chemistry == nil {
		chemistry = NewChemistryCache()
	}
	return &Engine{
		store:     store,
		chemistry: chemistry,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Chemistry exposes the cache for feedback writers
func (e *Engine) Chemistry() *ChemistryCache { return e.chemistry }

// Rank re-orders results by personalised score. The input order is not
// modified; a new slice is returned.
func (e *Engine) Rank(ctx context.Context, results []search.RankedResult, prefs Preferences, project ProjectContext) []Ranked {
	start := time.Now()
	ranked := make([]Ranked, 0, len(results))
	buckets := make(map[string]int)

	for _, r := range results {
		profile, err := e.store.Get(ctx, r.ID)
		if err != nil {
			profile = &models.TalentProfile{ID: r.ID}
		}

		factors := map[string]float64{
			FactorRelevance:    r.CompositeScore,
			FactorExperience:   experienceScore(profile),
			FactorPopularity:   popularityScore(profile),
			FactorRecency:      e.recencyScore(profile),
			FactorAvailability: r.SubScores.Availability,
			FactorChemistry:    e.chemistry.Mean(r.ID, project.CastIDs),
			FactorDiversity:    diversityScore(r.Metadata, buckets),
		}
		if !prefs.empty() {
			factors[FactorPreference] = preferenceScore(profile, prefs)
		}
		if boost, ok := performanceBoost(profile); ok {
			factors[FactorPerformance] = boost
		}

		weights := effectiveWeights(factors)
		var final float64
		for name, w := range weights {
			final += w * factors[name]
		}

		ranked = append(ranked, Ranked{
			RankedResult: r,
			FinalScore:   clamp01(final),
			Factors:      factors,
			Explanation:  explain(factors, weights),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].ID < ranked[j].ID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	e.metrics.RecordTimer("ranking_seconds", time.Since(start), map[string]string{})
	return ranked
}

// effectiveWeights returns the weight table for this candidate. Extra
// factors split the combined weight of the two lowest base factors
// equally, replacing them.
func effectiveWeights(factors map[string]float64) map[string]float64 {
	var extras []string
	if _, ok := factors[FactorPreference]; ok {
		extras = append(extras, FactorPreference)
	}
	if _, ok := factors[FactorPerformance]; ok {
		extras = append(extras, FactorPerformance)
	}

	weights := make(map[string]float64, len(baseWeights)+len(extras))
	for name, w := range baseWeights {
		weights[name] = w
	}
	if len(extras) == 0 {
		return weights
	}

	var pool float64
	for _, name := range substitutable {
		pool += weights[name]
		delete(weights, name)
	}
	share := pool / float64(len(extras))
	for _, name := range extras {
		weights[name] = share
	}
	return weights
}

// explain picks the top three factors by contribution and renders the
// stable explanation string
func explain(factors, weights map[string]float64) string {
	type contrib struct {
		name  string
		value float64
	}
	contribs := make([]contrib, 0, len(weights))
	for name, w := range weights {
		contribs = append(contribs, contrib{name: name, value: w * factors[name]})
	}
	sort.Slice(contribs, func(i, j int) bool {
		if contribs[i].value != contribs[j].value {
			return contribs[i].value > contribs[j].value
		}
		return contribs[i].name < contribs[j].name
	})

	n := 3
	if len(contribs) < n {
		n = len(contribs)
	}
	phrases := make([]string, 0, n)
	for _, c := range contribs[:n] {
		phrases = append(phrases, explanationTemplates[c.name])
	}
	return strings.Join(phrases, ". ") + "."
}

func experienceScore(p *models.TalentProfile) float64 {
	years := math.Min(float64(p.ExperienceYears)/30, 1)
	awards := math.Min(float64(p.Awards)/10, 1)
	projects := math.Min(float64(p.ProjectCount)/50, 1)
	return clamp01(0.5*years + 0.3*awards + 0.2*projects)
}

func popularityScore(p *models.TalentProfile) float64 {
	followers := math.Min(math.Log10(float64(p.Followers)+1)/7, 1)
	rating := clamp01(p.Rating / 5)
	mentions := math.Min(float64(p.Mentions)/100, 1)
	return clamp01(0.4*followers + 0.4*rating + 0.2*mentions)
}

// recencyScore applies the piecewise decay over days since last project
func (e *Engine) recencyScore(p *models.TalentProfile) float64 {
	if p.LastProjectAt.IsZero() {
		return 0.5
	}
	days := e.now().Sub(p.LastProjectAt).Hours() / 24
	switch {
	case days <= 90:
		return 1.0
	case days <= 180:
		return 0.8
	case days <= 365:
		return 0.6
	case days <= 730:
		return 0.4
	default:
		return 0.2
	}
}

// diversityScore rewards the first entrants of each demographic bucket
// as the list is walked in order
func diversityScore(meta map[string]interface{}, buckets map[string]int) float64 {
	key := bucketKey(meta)
	count := buckets[key]
	buckets[key]++
	switch count {
	case 0:
		return 1.0
	case 1:
		return 0.7
	default:
		return 0.4
	}
}

func bucketKey(meta map[string]interface{}) string {
	age := -1
	if v, ok := meta["age"]; ok {
		switch n := v.(type) {
		case int:
			age = n / 10
		case float64:
			age = int(n) / 10
		}
	}
	gender, _ := meta["gender"].(string)
	location, _ := meta["location"].(string)
	return fmt.Sprintf("%d|%s|%s", age, gender, location)
}

func preferenceScore(p *models.TalentProfile, prefs Preferences) float64 {
	var score, possible float64

	if len(prefs.LikedIDs) > 0 {
		possible += 0.4
		for _, id := range prefs.LikedIDs {
			if id == p.ID {
				score += 0.4
				break
			}
		}
	}
	if len(prefs.PreferredLocations) > 0 {
		possible += 0.4
		for _, loc := range prefs.PreferredLocations {
			if strings.EqualFold(loc, p.Location) {
				score += 0.4
				break
			}
		}
	}
	if len(prefs.TopGenres) > 0 {
		possible += 0.2
		if hasOverlap(prefs.TopGenres, p.Skills) {
			score += 0.2
		}
	}

	if possible == 0 {
		return 0.5
	}
	return clamp01(score / possible)
}

func hasOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// performanceBoost is only present when the profile shows recent heat
func performanceBoost(p *models.TalentProfile) (float64, bool) {
	if p.RecentBoxOffice <= 0 && !p.Trending && p.Rating < 4.5 && p.Awards == 0 {
		return 0, false
	}
	var score float64
	if p.RecentBoxOffice > 0 {
		score += 0.3 * math.Min(math.Log10(p.RecentBoxOffice+1)/9, 1)
	}
	if p.Trending {
		score += 0.3
	}
	if p.Rating >= 4.5 {
		score += 0.2
	}
	if p.Awards > 0 {
		score += 0.2 * math.Min(float64(p.Awards)/10, 1)
	}
	return clamp01(score), true
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
