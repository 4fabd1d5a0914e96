package task

import (
	"strconv"
	"strings"
)

// OverrideKind identifies a caller-supplied dispatch override.
type OverrideKind string

const (
	OverrideNone            OverrideKind = ""
	OverrideForceModel      OverrideKind = "forceModel"
	OverrideRetryCloud      OverrideKind = "retryCloud"
	OverrideRetryLocal      OverrideKind = "retryLocal"
	OverrideLowerConfidence OverrideKind = "lowerConfidence"
	OverrideQueue           OverrideKind = "queue"
)

// Override is a parsed override directive.
type Override struct {
	Kind OverrideKind
	// Model is set for forceModel overrides.
	Model string
	// Confidence is set for lowerConfidence overrides.
	Confidence float64
}

// ParseOverride parses a raw override string into a directive. Unknown or
// malformed values parse as OverrideNone rather than failing the dispatch.
func ParseOverride(raw string) Override {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Override{}
	}

	key, arg := raw, ""
	if idx := strings.Index(raw, ":"); idx >= 0 {
		key, arg = raw[:idx], strings.TrimSpace(raw[idx+1:])
	}

	switch strings.ToLower(key) {
	case "retrycloud":
		return Override{Kind: OverrideRetryCloud}
	case "retrylocal":
		return Override{Kind: OverrideRetryLocal}
	case "queue":
		return Override{Kind: OverrideQueue}
	case "forcemodel":
		if arg == "" {
			return Override{}
		}
		return Override{Kind: OverrideForceModel, Model: arg}
	case "lowerconfidence":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 || v > 1 {
			return Override{}
		}
		return Override{Kind: OverrideLowerConfidence, Confidence: v}
	default:
		return Override{}
	}
}

// BypassesBudget reports whether the override skips token-bucket admission.
func (o Override) BypassesBudget() bool {
	return o.Kind == OverrideRetryCloud
}

// ForcesEscalation reports whether the override mandates cloud escalation.
func (o Override) ForcesEscalation() bool {
	return o.Kind == OverrideRetryCloud || o.Kind == OverrideForceModel
}
