package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// historyWeight discounts entities carried over from earlier turns
const historyWeight = 0.7

var locationGazetteer = []string{
	"london", "paris", "berlin", "madrid", "rome", "dublin", "amsterdam",
	"new york", "los angeles", "chicago", "atlanta", "vancouver", "toronto",
	"sydney", "melbourne", "mumbai", "tokyo", "seoul", "cape town",
}

var languageGazetteer = []string{
	"english", "french", "german", "spanish", "italian", "portuguese",
	"mandarin", "cantonese", "japanese", "korean", "hindi", "arabic",
	"russian", "dutch", "swedish", "polish",
}

var skillGazetteer = []string{
	"stage combat", "horse riding", "fencing", "singing", "dancing",
	"ballet", "tap dance", "martial arts", "stunt work", "improvisation",
	"voice acting", "motion capture", "accents", "juggling", "acrobatics",
	"swimming", "driving", "piano", "guitar",
}

var experienceLevels = map[string]string{
	"beginner":     "beginner",
	"newcomer":     "beginner",
	"emerging":     "emerging",
	"experienced":  "experienced",
	"seasoned":     "experienced",
	"veteran":      "veteran",
	"award-winning": "veteran",
}

var roleTypes = []string{
	"lead", "supporting", "villain", "protagonist", "antagonist",
	"cameo", "extra", "narrator", "understudy", "ensemble",
}

var projectTypes = []string{
	"feature film", "short film", "series", "pilot", "commercial",
	"documentary", "musical", "play", "voice over", "audiobook",
}

var (
	ageRangeRe  = regexp.MustCompile(`(\d{1,2})\s*(?:-|to)\s*(\d{1,2})\s*(?:years?\s*old|yo)?`)
	ageExactRe  = regexp.MustCompile(`(?:age[d]?\s+|around\s+)(\d{1,2})|(\d{1,2})\s*years?\s*old`)
	ageDecadeRe = regexp.MustCompile(`in\s+(?:her|his|their)\s+(teens|twenties|thirties|forties|fifties|sixties)`)

	budgetRe = regexp.MustCompile(`[$€£]\s?(\d[\d,]*)|(\d[\d,]*)\s*(?:per day|a day|/day|dollars|euros|pounds)`)

	dateAbsRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b|\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b`)
	dateRelRe = regexp.MustCompile(`\b(today|tomorrow|next week|next month|this week|next (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)

	nameRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`)
)

var decadeMidpoints = map[string]int{
	"teens": 16, "twenties": 25, "thirties": 35,
	"forties": 45, "fifties": 55, "sixties": 65,
}

// ExtractEntities pulls every typed slot out of text. history carries
// entities from earlier turns; they contribute at reduced weight and
// never override a fresh extraction of the same type.
func ExtractEntities(text string, history []Entity) []Entity {
	lower := strings.ToLower(text)
	var out []Entity

	out = append(out, extractAge(lower)...)
	out = append(out, extractGender(lower)...)
	out = append(out, extractFromGazetteer(lower, locationGazetteer, EntityLocation, 0.9)...)
	out = append(out, extractFromGazetteer(lower, languageGazetteer, EntityLanguage, 0.85)...)
	out = append(out, extractFromGazetteer(lower, skillGazetteer, EntitySkill, 0.85)...)
	out = append(out, extractExperienceLevel(lower)...)
	out = append(out, extractFromGazetteer(lower, roleTypes, EntityRoleType, 0.8)...)
	out = append(out, extractFromGazetteer(lower, projectTypes, EntityProjectType, 0.8)...)
	out = append(out, extractBudget(lower)...)
	out = append(out, extractDates(lower)...)
	out = append(out, extractNames(text)...)

	present := make(map[EntityType]bool, len(out))
	for _, e := range out {
		present[e.Type] = true
	}
	for _, h := range history {
		if present[h.Type] {
			continue
		}
		out = append(out, Entity{Type: h.Type, Value: h.Value, Confidence: h.Confidence * historyWeight})
	}

	return dedupeEntities(out)
}

// dedupeEntities keeps the highest-confidence entity per (type, value)
func dedupeEntities(entities []Entity) []Entity {
	type key struct {
		t EntityType
		v string
	}
	best := make(map[key]Entity, len(entities))
	order := make([]key, 0, len(entities))
	for _, e := range entities {
		k := key{e.Type, e.Value}
		if prev, ok := best[k]; !ok {
			best[k] = e
			order = append(order, k)
		} else if e.Confidence > prev.Confidence {
			best[k] = e
		}
	}
	out := make([]Entity, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func extractAge(lower string) []Entity {
	if m := ageRangeRe.FindStringSubmatch(lower); m != nil {
		return []Entity{{Type: EntityAge, Value: m[1] + "-" + m[2], Confidence: 0.9}}
	}
	if m := ageExactRe.FindStringSubmatch(lower); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		n, err := strconv.Atoi(raw)
		if err == nil && n >= 1 && n <= 99 {
			// exact age widens to ±2
			return []Entity{{Type: EntityAge, Value: fmt.Sprintf("%d-%d", n-2, n+2), Confidence: 0.85}}
		}
	}
	if m := ageDecadeRe.FindStringSubmatch(lower); m != nil {
		mid := decadeMidpoints[m[1]]
		return []Entity{{Type: EntityAge, Value: fmt.Sprintf("%d-%d", mid-5, mid+5), Confidence: 0.75}}
	}
	return nil
}

func extractGender(lower string) []Entity {
	switch {
	case strings.Contains(lower, "actress") || containsWord(lower, "female") || containsWord(lower, "woman"):
		return []Entity{{Type: EntityGender, Value: "female", Confidence: 0.9}}
	case containsWord(lower, "actor") && !strings.Contains(lower, "actress"), containsWord(lower, "male"), containsWord(lower, "man"):
		// "actor" alone is weak evidence; explicit "male" is strong
		conf := 0.5
		if containsWord(lower, "male") || containsWord(lower, "man") {
			conf = 0.9
		}
		return []Entity{{Type: EntityGender, Value: "male", Confidence: conf}}
	case containsWord(lower, "non-binary") || containsWord(lower, "nonbinary"):
		return []Entity{{Type: EntityGender, Value: "other", Confidence: 0.9}}
	}
	return nil
}

func extractFromGazetteer(lower string, gazetteer []string, t EntityType, conf float64) []Entity {
	var out []Entity
	for _, term := range gazetteer {
		if strings.Contains(lower, term) {
			out = append(out, Entity{Type: t, Value: term, Confidence: conf})
		}
	}
	return out
}

func extractExperienceLevel(lower string) []Entity {
	for word, level := range experienceLevels {
		if strings.Contains(lower, word) {
			return []Entity{{Type: EntityExperienceLevel, Value: level, Confidence: 0.8}}
		}
	}
	return nil
}

func extractBudget(lower string) []Entity {
	m := budgetRe.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	value := strings.ReplaceAll(raw, ",", "")
	return []Entity{{Type: EntityBudget, Value: value, Confidence: 0.85}}
}

func extractDates(lower string) []Entity {
	var out []Entity
	for _, m := range dateAbsRe.FindAllString(lower, -1) {
		out = append(out, Entity{Type: EntityDate, Value: m, Confidence: 0.9})
	}
	for _, m := range dateRelRe.FindAllString(lower, -1) {
		out = append(out, Entity{Type: EntityDate, Value: m, Confidence: 0.8})
	}
	return out
}

// extractNames finds capitalised word sequences, skipping sentence
// starts that are ordinary words
func extractNames(text string) []Entity {
	var out []Entity
	for _, m := range nameRe.FindAllString(text, -1) {
		out = append(out, Entity{Type: EntityName, Value: m, Confidence: 0.7})
	}
	return out
}

func containsWord(haystack, word string) bool {
	for _, f := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-'
	}) {
		if f == word {
			return true
		}
	}
	return false
}
