package conversation

import (
	"strconv"
	"strings"

	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/search"
)

// criteriaFromEntities maps extracted slots onto structured search
// criteria. Unparseable values are dropped rather than guessed.
func criteriaFromEntities(entities []nlp.Entity) search.Criteria {
	var criteria search.Criteria
	for _, e := range entities {
		switch e.Type {
		case nlp.EntityAge:
			if min, max, ok := parseAgeRange(e.Value); ok {
				criteria.AgeMin, criteria.AgeMax = min, max
			}
		case nlp.EntityGender:
			criteria.Gender = e.Value
		case nlp.EntityLocation:
			if criteria.Location == "" {
				criteria.Location = e.Value
			}
		case nlp.EntityLanguage:
			criteria.Languages = append(criteria.Languages, e.Value)
		case nlp.EntitySkill:
			criteria.Skills = append(criteria.Skills, e.Value)
			criteria.RequiredKeywords = append(criteria.RequiredKeywords, e.Value)
		case nlp.EntityBudget:
			if v, err := strconv.ParseFloat(e.Value, 64); err == nil && v > 0 {
				criteria.BudgetMax = v
			}
		}
	}
	return criteria
}

func parseAgeRange(value string) (int, int, bool) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	max, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || min <= 0 || max < min {
		return 0, 0, false
	}
	return min, max, true
}
