package dispatch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/task"
)

// failureReason tags why a dispatch produced no accepted answer.
type failureReason string

const (
	reasonBudget    failureReason = "budgetExhausted"
	reasonSkipped   failureReason = "skipped"
	reasonExhausted failureReason = "exhausted"
	reasonLocalDown failureReason = "localUnavailable"
)

const previewLimit = 240

// overrideMenu is the fixed machine-readable suggestion set appended to
// every failure report.
var overrideMenu = []string{
	"retryLocal",
	"retryCloud",
	"forceModel:<id>",
	"queue",
	"lowerConfidence:<x>",
}

// failure composes the non-exception failure Response: a human-readable
// summary over the attempt log, the admission state, blocked tiers, the best
// local preview and the override menu.
func (e *Engine) failure(r *run, reason failureReason) task.Response {
	var sb strings.Builder

	fmt.Fprintf(&sb, "dispatch failed (%s)\n", reason)
	fmt.Fprintf(&sb, "task: category=%s risk=%s est_tokens=%d\n",
		r.t.Category, r.t.Risk, r.t.EstimatedTokens())

	if len(r.attempts) > 0 {
		sb.WriteString("attempts:\n")
		for i, a := range r.attempts {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, e.renderAttempt(a))
		}
	} else {
		sb.WriteString("attempts: none\n")
	}

	level := e.buckets.Remaining(r.t.Class)
	fmt.Fprintf(&sb, "budget[%s]: %d/%d remaining\n", r.t.Class, level.Remaining, level.Capacity)

	if blocked := e.breakers.Blocked(); len(blocked) > 0 {
		fmt.Fprintf(&sb, "blocked tiers: %s\n", strings.Join(blocked, ", "))
	}

	if r.bestLocal != nil {
		preview := r.bestLocal.Text
		if len(preview) > previewLimit {
			preview = preview[:previewLimit] + "…"
		}
		fmt.Fprintf(&sb, "best local result (confidence %.2f):\n%s\n", r.bestLocal.Confidence, preview)
	}

	for _, note := range r.notes {
		fmt.Fprintf(&sb, "note: %s\n", note)
	}

	fmt.Fprintf(&sb, "overrides: %s\n", strings.Join(overrideMenu, " | "))

	resp := task.Response{
		Text:     RedactSecrets(sb.String(), e.secrets),
		Backend:  "none",
		Failed:   true,
		Attempts: r.attempts,
	}
	e.log.Debug("dispatch failed",
		zap.String("category", r.t.Category),
		zap.String("reason", string(reason)),
		zap.Int("attempts", len(r.attempts)))
	e.audit(r.t, resp)
	return resp
}

// renderAttempt formats one attempt line. Timeouts against the designated
// primary tier are rendered generically: the primary has automatic
// fallbacks, so its internal name is not exposed to callers.
func (e *Engine) renderAttempt(a task.Attempt) string {
	if a.Outcome == task.OutcomeTimeout && a.TierID == e.catalog.Primary() {
		return "timeout: trying alternatives"
	}
	line := fmt.Sprintf("%s: %s", a.TierID, a.Outcome)
	if a.Outcome == task.OutcomeOK || a.Outcome == task.OutcomeLowConfidence {
		line += fmt.Sprintf(" (confidence %.2f)", a.Confidence)
	}
	if a.Note != "" {
		line += ": " + a.Note
	}
	return line
}
