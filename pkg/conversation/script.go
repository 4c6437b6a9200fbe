package conversation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// Character is one speaking role extracted from a script
type Character struct {
	Name        string   `json:"name"`
	Lines       int      `json:"lines"`
	Traits      []string `json:"traits,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Requirement is a derived casting requirement for one character
type Requirement struct {
	Character string   `json:"character"`
	RoleSize  string   `json:"role_size"`
	Keywords  []string `json:"keywords,omitempty"`
}

// ScriptReport is the script analysis response shape
type ScriptReport struct {
	Characters   []Character   `json:"characters"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Suggestions  []string      `json:"suggestions,omitempty"`
}

var (
	// screenplay character cue: an uppercase name on its own line,
	// optionally with a (V.O.) / (CONT'D) style extension
	cuePattern = regexp.MustCompile(`^\s*([A-Z][A-Z .'\-]{1,30}?)(?:\s*\((?:V\.O\.|O\.S\.|CONT'D|CONT\.)\))?\s*$`)
	// dialogue-style line: NAME: spoken text
	colonPattern = regexp.MustCompile(`^\s*([A-Z][A-Za-z .'\-]{1,30}?):\s+\S`)
	// parenthetical direction under a cue, e.g. (nervous, whispering)
	parenPattern  = regexp.MustCompile(`^\s*\(([a-z][^)]{1,60})\)\s*$`)
	sceneHeadings = regexp.MustCompile(`^\s*(INT\.|EXT\.|FADE IN|FADE OUT|CUT TO|DISSOLVE TO)`)
)

// roleSize thresholds by dialogue line count
const (
	leadLines       = 20
	supportingLines = 5
)

// AnalyzeScript extracts speaking characters and, optionally, casting
// requirements and suggestions from raw script text. The extraction is
// heuristic: screenplay cues (uppercase name lines) and NAME: dialogue
// both count, scene headings and transitions are ignored.
func AnalyzeScript(text string, extractRequirements, suggest bool) (*ScriptReport, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "script text is required")
	}

	counts := make(map[string]int)
	traits := make(map[string]map[string]struct{})
	order := make(map[string]int)

	lines := strings.Split(text, "\n")
	current := ""
	for _, line := range lines {
		if sceneHeadings.MatchString(line) {
			current = ""
			continue
		}
		if m := cuePattern.FindStringSubmatch(line); m != nil {
			name := normalizeCharacter(m[1])
			if name == "" {
				continue
			}
			current = name
			if _, ok := order[name]; !ok {
				order[name] = len(order)
			}
			continue
		}
		if m := colonPattern.FindStringSubmatch(line); m != nil {
			name := normalizeCharacter(m[1])
			if name == "" {
				continue
			}
			if _, ok := order[name]; !ok {
				order[name] = len(order)
			}
			counts[name]++
			current = ""
			continue
		}
		if current != "" {
			if m := parenPattern.FindStringSubmatch(line); m != nil {
				if traits[current] == nil {
					traits[current] = make(map[string]struct{})
				}
				for _, t := range strings.Split(m[1], ",") {
					t = strings.TrimSpace(t)
					if t != "" {
						traits[current][t] = struct{}{}
					}
				}
				continue
			}
			if strings.TrimSpace(line) == "" {
				current = ""
				continue
			}
			counts[current]++
		}
	}

	if len(order) == 0 {
		return nil, apperrors.New(apperrors.KindNotFound, "no speaking characters found in script")
	}

	report := &ScriptReport{}
	names := make([]string, 0, len(order))
	for name := range order {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return order[names[i]] < order[names[j]]
	})

	for _, name := range names {
		ch := Character{Name: name, Lines: counts[name], Traits: sortedSet(traits[name])}
		if len(ch.Traits) > 0 {
			ch.Description = fmt.Sprintf("%s reads as %s", name, strings.Join(ch.Traits, ", "))
		}
		report.Characters = append(report.Characters, ch)
	}

	if extractRequirements {
		for _, ch := range report.Characters {
			report.Requirements = append(report.Requirements, Requirement{
				Character: ch.Name,
				RoleSize:  roleSize(ch.Lines),
				Keywords:  ch.Traits,
			})
		}
	}

	if suggest {
		report.Suggestions = suggestions(report)
	}
	return report, nil
}

// Render formats the report as chat prose
func (r *ScriptReport) Render() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("I found %d speaking characters in this script:\n", len(r.Characters)))
	for _, ch := range r.Characters {
		b.WriteString(fmt.Sprintf("- %s (%d lines", ch.Name, ch.Lines))
		if len(ch.Traits) > 0 {
			b.WriteString(", " + strings.Join(ch.Traits, ", "))
		}
		b.WriteString(")\n")
	}
	if len(r.Requirements) > 0 {
		b.WriteString("\nCasting requirements:\n")
		for _, req := range r.Requirements {
			b.WriteString(fmt.Sprintf("- %s: %s role\n", req.Character, req.RoleSize))
		}
	}
	for _, s := range r.Suggestions {
		b.WriteString("\n" + s)
	}
	return strings.TrimRight(b.String(), "\n")
}

func roleSize(lines int) string {
	switch {
	case lines >= leadLines:
		return "lead"
	case lines >= supportingLines:
		return "supporting"
	default:
		return "minor"
	}
}

func suggestions(r *ScriptReport) []string {
	var out []string
	leads := 0
	for _, req := range r.Requirements {
		if req.RoleSize == "lead" {
			leads++
		}
	}
	if leads > 0 {
		out = append(out, fmt.Sprintf("Start auditions with the %d lead role(s); supporting roles can be cast in a second round.", leads))
	}
	for _, ch := range r.Characters {
		if len(ch.Traits) > 0 {
			out = append(out, fmt.Sprintf("For %s, search for performers with experience playing %s characters.", ch.Name, ch.Traits[0]))
			break
		}
	}
	if len(out) == 0 {
		out = append(out, "All roles look small; a single open call should cover casting.")
	}
	return out
}

// normalizeCharacter title-cases a cue name and rejects non-name noise
func normalizeCharacter(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) < 2 {
		return ""
	}
	upper := strings.ToUpper(raw)
	switch upper {
	case "INT", "EXT", "THE END", "TITLE", "SUPER", "NOTE", "CONTINUED":
		return ""
	}
	words := strings.Fields(strings.ToLower(raw))
	if len(words) > 3 {
		return ""
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
