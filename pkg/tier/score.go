package tier

import (
	"strings"

	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/task"
)

var coderCategories = map[string]bool{
	"code":     true,
	"json":     true,
	"refactor": true,
	"debug":    true,
}

var coderMarkers = []string{"coder", "codestral", "code"}

var reasonerMarkers = []string{"r1", "reasoner", "thinking", "70b", "72b"}

// Marker digits are anchored on the size separator so "-7b" never matches a
// "-27b" model.
var compactMarkers = []string{"mini", "small", "-1b", "-3b", "-4b", "-7b", "-8b"}

// SelectLocalModel picks the best available local model for a task.
//
// Each model id is scored by the configured family table (substring match,
// weights summed) plus task-type bonuses: coding categories favor
// coder-named models, high-risk tasks favor large-reasoning models, and
// short prompts favor compact models. Ties favor the first-scanned model,
// and a model matching nothing scores a base 1 so an unmatched list still
// selects the first entry deterministically.
func SelectLocalModel(available []string, t task.Task, scoring config.ScoringConfig) string {
	if len(available) == 0 {
		return ""
	}

	best := available[0]
	bestScore := 0
	for _, id := range available {
		score := scoreModel(id, t, scoring)
		if score > bestScore {
			best = id
			bestScore = score
		}
	}
	return best
}

func scoreModel(id string, t task.Task, scoring config.ScoringConfig) int {
	lower := strings.ToLower(id)

	score := 0
	for _, fam := range scoring.Families {
		if strings.Contains(lower, strings.ToLower(fam.Match)) {
			score += fam.Weight
		}
	}

	if coderCategories[t.Category] && containsAny(lower, coderMarkers) {
		score += scoring.CoderBonus
	}
	if t.Risk == task.RiskHigh && containsAny(lower, reasonerMarkers) {
		score += scoring.ReasonerBonus
	}
	if len(t.Prompt) < scoring.ShortPromptChars && containsAny(lower, compactMarkers) {
		score += scoring.CompactBonus
	}

	if score == 0 {
		score = 1
	}
	return score
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
