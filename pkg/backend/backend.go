// Package backend provides the uniform invocation contract for compute
// backends. One local invoker and several remote provider invokers implement
// it; the dispatch engine only ever sees tagged Results, never raised errors.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ResultKind tags a backend invocation outcome.
type ResultKind string

const (
	// ResultOK means the backend answered; Confidence may still be low.
	ResultOK ResultKind = "ok"
	// ResultTimeout means the backend was unreachable or too slow.
	ResultTimeout ResultKind = "timeout"
	// ResultProtocolError means the backend answered with something unusable:
	// a malformed body, a rate limit or a payment-required status. Treated
	// downstream as a zero-confidence answer, never as a timeout.
	ResultProtocolError ResultKind = "protocolError"
)

// Result is the tagged outcome of one backend invocation.
type Result struct {
	Kind       ResultKind
	Text       string
	Confidence float64
	Note       string
}

// OK builds a successful result.
func OK(text string, confidence float64) Result {
	return Result{Kind: ResultOK, Text: text, Confidence: confidence}
}

// Timeout builds a timeout result.
func Timeout(note string) Result {
	return Result{Kind: ResultTimeout, Note: note}
}

// ProtocolError builds a zero-confidence protocol-error result.
func ProtocolError(note string) Result {
	return Result{Kind: ResultProtocolError, Note: note}
}

// Invoker is the uniform synchronous call contract for a backend.
// Implementations enforce the timeout themselves; a Timeout result is the
// only cancellation signal the engine observes.
type Invoker interface {
	// Name returns the invoker's provider identifier.
	Name() string

	// Invoke sends a prompt to the given model and reports the outcome.
	Invoke(ctx context.Context, model, prompt string, timeout time.Duration) Result
}

// Model holds metadata about an available model.
type Model struct {
	ID       string
	Metadata map[string]string
}

// isTimeoutErr reports whether an invocation error was a deadline or network
// timeout rather than a protocol failure.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// resultFromErr converts a provider call error into a Result.
func resultFromErr(provider string, err error) Result {
	if isTimeoutErr(err) {
		return Timeout(fmt.Sprintf("%s: %v", provider, err))
	}
	return ProtocolError(fmt.Sprintf("%s: %v", provider, err))
}

var refusalMarkers = []string{
	"i can't help",
	"i cannot help",
	"i'm unable to",
	"as an ai",
}

// EstimateConfidence derives a deterministic [0,1] quality score from a
// response body for backends that report none. Empty bodies score zero,
// refusals score below every acceptance threshold, and longer substantive
// answers score higher up to 0.9.
func EstimateConfidence(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return 0.35
		}
	}
	score := 0.55 + float64(len(trimmed))/1200*0.35
	if score > 0.9 {
		score = 0.9
	}
	return score
}
