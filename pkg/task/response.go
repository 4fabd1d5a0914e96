package task

import "time"

// Outcome classifies a single backend attempt.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeLowConfidence Outcome = "lowConfidence"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeError         Outcome = "error"
)

// Attempt records one backend invocation (or skip) during a dispatch.
// The per-dispatch attempt log is append-only.
type Attempt struct {
	TierID     string    `json:"tier_id"`
	Outcome    Outcome   `json:"outcome"`
	Confidence float64   `json:"confidence,omitempty"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Response is the engine's only output. Dispatch never raises to its caller;
// every path, including failures, terminates in a Response value.
type Response struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Backend    string    `json:"backend"`
	Cached     bool      `json:"cached"`
	Failed     bool      `json:"failed"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}
