// Package models holds the domain entities shared across the engine.
package models

import (
	"sort"
	"strings"
	"time"
)

// TalentStatus is the lifecycle state of a talent profile
type TalentStatus string

const (
	TalentActive   TalentStatus = "active"
	TalentArchived TalentStatus = "archived"
)

// BudgetRange is a talent's acceptable compensation range, inclusive
type BudgetRange struct {
	Min float64 `json:"min" db:"budget_min"`
	Max float64 `json:"max" db:"budget_max"`
}

// AvailabilityWindow is the date range a talent can accept work in
type AvailabilityWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TalentProfile is the canonical talent record. The relational profile store
// owns it; the vector index and caches are derived views that may be rebuilt
// from profiles at any time.
type TalentProfile struct {
	ID              string              `json:"id" db:"id"`
	Name            string              `json:"name" db:"name"`
	Age             int                 `json:"age" db:"age"`
	Gender          string              `json:"gender" db:"gender"`
	Location        string              `json:"location" db:"location"`
	HeightCM        float64             `json:"height_cm,omitempty" db:"height_cm"`
	Languages       []string            `json:"languages"`
	Skills          []string            `json:"skills"`
	ExperienceYears int                 `json:"experience_years" db:"experience_years"`
	Awards          int                 `json:"awards" db:"awards"`
	ProjectCount    int                 `json:"project_count" db:"project_count"`
	Followers       int                 `json:"followers" db:"followers"`
	Rating          float64             `json:"rating" db:"rating"`
	Mentions        int                 `json:"mentions" db:"mentions"`
	Trending        bool                `json:"trending" db:"trending"`
	RecentBoxOffice float64             `json:"recent_box_office,omitempty" db:"recent_box_office"`
	LastProjectAt   time.Time           `json:"last_project_at,omitempty" db:"last_project_at"`
	Availability    *AvailabilityWindow `json:"availability,omitempty"`
	Budget          *BudgetRange        `json:"budget,omitempty"`
	Bio             string              `json:"bio" db:"bio"`
	Status          TalentStatus        `json:"status" db:"status"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// SearchableText builds the canonical text used for embedding and keyword
// matching: name, bio, skills and languages in a stable order.
func (p *TalentProfile) SearchableText() string {
	parts := []string{p.Name, p.Bio}

	skills := append([]string(nil), p.Skills...)
	sort.Strings(skills)
	parts = append(parts, skills...)

	langs := append([]string(nil), p.Languages...)
	sort.Strings(langs)
	parts = append(parts, langs...)

	if p.Location != "" {
		parts = append(parts, p.Location)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// IndexMetadata builds the flat metadata map stored alongside the profile's
// vector. Only scalars and string slices: the vector filter engine and the
// post-retrieval display layer both consume this shape.
func (p *TalentProfile) IndexMetadata() map[string]interface{} {
	m := map[string]interface{}{
		"name":             p.Name,
		"age":              p.Age,
		"gender":           p.Gender,
		"location":         p.Location,
		"languages":        append([]string(nil), p.Languages...),
		"skills":           append([]string(nil), p.Skills...),
		"experience_years": p.ExperienceYears,
		"status":           string(p.Status),
	}
	if p.HeightCM > 0 {
		m["height_cm"] = p.HeightCM
	}
	if p.Budget != nil {
		m["budget_min"] = p.Budget.Min
		m["budget_max"] = p.Budget.Max
	}
	return m
}
