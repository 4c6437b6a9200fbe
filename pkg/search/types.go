// Package search implements hybrid talent retrieval: semantic similarity
// from the vector index overlaid with keyword, attribute, availability and
// budget signals, fused into a single ranked list. Every stage is
// fail-soft; a dead dependency degrades its signal instead of failing the
// request.
package search

import (
	"context"
	"time"
)

// DateRange is an inclusive availability window being asked about
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Criteria is the structured half of a search request. Zero values mean
// "no constraint".
type Criteria struct {
	RequiredKeywords []string   `json:"required_keywords,omitempty"`
	Gender           string     `json:"gender,omitempty"`
	Location         string     `json:"location,omitempty"`
	Languages        []string   `json:"languages,omitempty"`
	Skills           []string   `json:"skills,omitempty"`
	AgeMin           int        `json:"age_min,omitempty"`
	AgeMax           int        `json:"age_max,omitempty"`
	HeightMinCM      float64    `json:"height_min_cm,omitempty"`
	HeightMaxCM      float64    `json:"height_max_cm,omitempty"`
	BudgetMin        float64    `json:"budget_min,omitempty"`
	BudgetMax        float64    `json:"budget_max,omitempty"`
	Availability     *DateRange `json:"availability,omitempty"`
}

// HasBudget reports whether the request constrains budget
func (c Criteria) HasBudget() bool { return c.BudgetMax > 0 }

// Request is one hybrid search invocation
type Request struct {
	Query    string   `json:"query"`
	Criteria Criteria `json:"criteria"`
	K        int      `json:"k"`
}

// SubScores holds the per-signal components of a composite score,
// each in [0,1]
type SubScores struct {
	Semantic     float64 `json:"semantic"`
	Keyword      float64 `json:"keyword"`
	Attribute    float64 `json:"attribute"`
	Availability float64 `json:"availability"`
	Budget       float64 `json:"budget"`
}

// RankedResult is one search hit after fusion
type RankedResult struct {
	ID             string                 `json:"id"`
	CompositeScore float64                `json:"composite_score"`
	Rank           int                    `json:"rank"`
	SubScores      SubScores              `json:"sub_scores"`
	Explanation    string                 `json:"explanation,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Response carries the ranked list plus degradation metadata so callers
// can tell a full-fidelity answer from a partial one
type Response struct {
	Results  []RankedResult `json:"results"`
	Degraded []string       `json:"degraded,omitempty"`
	Took     time.Duration  `json:"took"`
}

// AvailabilityStatus enumerates what an availability provider can report
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityUnknown   AvailabilityStatus = "unknown"
	AvailabilityBusy      AvailabilityStatus = "busy"
)

// AvailabilityProvider answers date-range availability questions.
// Implementations typically front an external scheduling system.
type AvailabilityProvider interface {
	Check(ctx context.Context, talentID string, window DateRange) (float64, AvailabilityStatus, error)
}

// Weights govern rank fusion. Attr covers the mean of attribute,
// availability and budget.
type Weights struct {
	Semantic float64
	Keyword  float64
	Attr     float64
}

// DefaultWeights is the production fusion weighting
var DefaultWeights = Weights{Semantic: 0.6, Keyword: 0.2, Attr: 0.2}

// degradation signal names reported in Response.Degraded
const (
	DegradedSemantic     = "semantic"
	DegradedVectorIndex  = "vector_index"
	DegradedAvailability = "availability"
	DegradedProfiles     = "profiles"
)
