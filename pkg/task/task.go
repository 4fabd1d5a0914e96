package task

// Risk indicates how much a wrong or missing answer costs the caller.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Valid returns true if the risk level is a known value.
func (r Risk) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Critical reports whether the risk level warrants the larger escalation
// budget.
func (r Risk) Critical() bool {
	return r == RiskMedium || r == RiskHigh
}

// TrafficClass selects which admission budget a task draws from.
type TrafficClass string

const (
	ClassInteractive TrafficClass = "interactive"
	ClassBackground  TrafficClass = "background"
	ClassGeneral     TrafficClass = "general"
)

// Valid returns true if the traffic class is a known value.
func (c TrafficClass) Valid() bool {
	switch c {
	case ClassInteractive, ClassBackground, ClassGeneral:
		return true
	default:
		return false
	}
}

// Classes lists every traffic class in a stable order.
func Classes() []TrafficClass {
	return []TrafficClass{ClassInteractive, ClassBackground, ClassGeneral}
}

// Task is a single inference request. It is immutable once submitted.
type Task struct {
	Category string
	Risk     Risk
	Prompt   string
	Override string
	Class    TrafficClass
	UserID   string
}

// EstimatedTokens approximates the prompt's token count. Four characters per
// token is close enough for routing thresholds.
func (t Task) EstimatedTokens() int {
	return len(t.Prompt) / 4
}
