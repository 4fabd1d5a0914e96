package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/cache"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/repair"
	"github.com/zen-systems/routegate/pkg/task"
	"github.com/zen-systems/routegate/pkg/tier"
)

// needsCloud lists the categories whose answers always warrant cloud
// escalation regardless of risk level.
var needsCloud = map[string]bool{
	"policy":      true,
	"arbiter":     true,
	"reasoning":   true,
	"long-form":   true,
	"code":        true,
	"json-format": true,
}

// run carries the mutable state of one dispatch.
type run struct {
	t        task.Task
	ov       task.Override
	fp       string
	localMin float64
	attempts []task.Attempt
	// bestLocal keeps the highest-confidence local answer even when it is
	// below threshold, for low-risk returns and failure-report previews.
	bestLocal *task.Response
	notes     []string
}

func (r *run) record(tierID string, outcome task.Outcome, confidence float64, note string, now func() time.Time) {
	r.attempts = append(r.attempts, task.Attempt{
		TierID:     tierID,
		Outcome:    outcome,
		Confidence: confidence,
		Note:       note,
		Timestamp:  now(),
	})
}

// Dispatch routes a task through the full pipeline and always returns a
// Response; no error or panic crosses this boundary. Failures come back as
// a Response with Failed=true carrying a human-readable report.
func (e *Engine) Dispatch(ctx context.Context, t task.Task) (resp task.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := RedactSecrets(fmt.Sprint(rec), e.secrets)
			e.log.Error("dispatch panic", zap.String("category", t.Category), zap.String("error", msg))
			resp = task.Response{
				Text:    "dispatch failed internally: " + msg,
				Backend: "none",
				Failed:  true,
			}
		}
	}()

	if !t.Class.Valid() {
		t.Class = task.ClassGeneral
	}
	if !t.Risk.Valid() {
		t.Risk = task.RiskLow
	}

	// PAUSED-CHECK: nothing else is touched while paused.
	if e.Paused() {
		return task.Response{
			Text:       "dispatch is paused; try again later",
			Confidence: 0.1,
			Backend:    "none",
		}
	}

	// CACHE-CHECK
	fp := cache.Fingerprint(t.Category, t.Risk, t.Prompt)
	if cached, ok := e.cache.Get(fp); ok {
		cached.Cached = true
		e.log.Debug("cache hit", zap.String("category", t.Category), zap.String("fingerprint", fp))
		e.audit(t, cached)
		return cached
	}

	// OVERRIDE-PARSE
	ov := task.ParseOverride(t.Override)
	r := &run{t: t, ov: ov, fp: fp, localMin: e.cfg.LocalConfidenceMin}
	if ov.Kind == task.OverrideLowerConfidence && ov.Confidence < r.localMin {
		r.localMin = ov.Confidence
	}

	if ov.Kind == task.OverrideQueue {
		if resp, ok := e.tryQueue(r); ok {
			return resp
		}
	}

	ladder := e.catalog.ResolveLadder(t.Category)
	primary := e.catalog.Primary()

	// FAST-PATH: under remote-first policy the primary remote tier goes
	// ahead of local, unless the caller pinned local or a specific model.
	cloudFirst := e.cfg.Policy == config.PolicyRemoteFirst &&
		ov.Kind != task.OverrideRetryLocal &&
		ov.Kind != task.OverrideForceModel &&
		primary != ""

	// ADMISSION
	if e.cfg.ConstrainedMode {
		if !e.localAlive(ctx) {
			return e.failure(r, reasonLocalDown)
		}
	} else if !ov.BypassesBudget() {
		if !e.buckets.TryConsume(t.Class) {
			return e.failure(r, reasonBudget)
		}
	}

	attemptedPrimary := false
	if cloudFirst {
		if pt, ok := e.catalog.Tier(primary); ok {
			if resp, done := e.cloudAttempt(ctx, r, pt, pt.Model); done {
				return resp
			}
			attemptedPrimary = true
		}
	}

	// LOCAL-ATTEMPTS
	if resp, done := e.localAttempts(ctx, r, ladder); done {
		return resp
	}

	// ESCALATION DECISION
	escalate := t.Risk.Critical() ||
		needsCloud[t.Category] ||
		t.EstimatedTokens() > e.cfg.LongContextTokens ||
		ov.ForcesEscalation()
	if !escalate {
		if r.bestLocal != nil {
			best := *r.bestLocal
			best.Attempts = r.attempts
			e.log.Debug("escalation skipped, returning local result",
				zap.String("category", t.Category), zap.Float64("confidence", best.Confidence))
			e.audit(t, best)
			return best
		}
		return e.failure(r, reasonSkipped)
	}

	// CLOUD LADDER
	if ov.Kind == task.OverrideForceModel {
		if resp, done := e.forcedAttempt(ctx, r, ov.Model); done {
			return resp
		}
	}

	maxHops := e.cfg.MaxHopsRoutine
	if t.Risk.Critical() {
		maxHops = e.cfg.MaxHopsCritical
	}
	unlimited := ov.Kind == task.OverrideRetryCloud

	hops := 0
	for _, id := range ladder {
		tr, ok := e.catalog.Tier(id)
		if !ok || tr.Kind != tier.KindRemote {
			continue
		}
		if attemptedPrimary && id == primary {
			continue
		}
		if !unlimited && hops >= maxHops {
			r.notes = append(r.notes, fmt.Sprintf("hop budget reached before %s", id))
			break
		}
		if e.breakers.IsBlocked(id) {
			r.record(id, task.OutcomeBlocked, 0, "breaker cooling down", e.now)
			continue
		}
		hops++
		if resp, done := e.cloudAttempt(ctx, r, tr, tr.Model); done {
			return resp
		}
	}

	// FAILURE
	return e.failure(r, reasonExhausted)
}

// tryQueue hands the task to a registered queue capability. When none is
// registered the override is noted and dispatch continues normally.
func (e *Engine) tryQueue(r *run) (task.Response, bool) {
	q, ok := e.caps.Queue()
	if !ok {
		r.notes = append(r.notes, "queue override ignored: no queue capability registered")
		return task.Response{}, false
	}
	if err := q.Enqueue(r.t); err != nil {
		r.notes = append(r.notes, "queue capability rejected task: "+RedactSecrets(err.Error(), e.secrets))
		return task.Response{}, false
	}
	e.log.Debug("task queued", zap.String("category", r.t.Category))
	return task.Response{
		Text:       "task accepted for deferred dispatch",
		Confidence: 0.5,
		Backend:    "queue",
	}, true
}

// localAttempts runs the local tier up to MaxLocalAttempts, switching to a
// category-derived repair prompt after the first try. The first attempt that
// meets the local threshold wins.
func (e *Engine) localAttempts(ctx context.Context, r *run, ladder []string) (task.Response, bool) {
	var localTier tier.Tier
	found := false
	for _, id := range ladder {
		if tr, ok := e.catalog.Tier(id); ok && tr.Kind == tier.KindLocal {
			localTier = tr
			found = true
			break
		}
	}
	if !found || e.resolver == nil {
		return task.Response{}, false
	}

	if e.breakers.IsBlocked(localTier.ID) {
		r.record(localTier.ID, task.OutcomeBlocked, 0, "breaker cooling down", e.now)
		return task.Response{}, false
	}

	model, err := e.resolver.Active(ctx, r.t)
	if err != nil {
		r.record(localTier.ID, task.OutcomeError, 0, RedactSecrets(err.Error(), e.secrets), e.now)
		return task.Response{}, false
	}

	prompt := r.t.Prompt
	for attempt := 0; attempt < e.cfg.MaxLocalAttempts; attempt++ {
		res := e.invoke(ctx, localTier, model, prompt)
		switch res.Kind {
		case backend.ResultOK:
			if res.Confidence >= r.localMin {
				r.record(localTier.ID, task.OutcomeOK, res.Confidence, "", e.now)
				return e.succeed(r, localTier.ID, res.Text, res.Confidence), true
			}
			r.record(localTier.ID, task.OutcomeLowConfidence, res.Confidence, res.Note, e.now)
			if r.bestLocal == nil || res.Confidence > r.bestLocal.Confidence {
				r.bestLocal = &task.Response{
					Text:       res.Text,
					Confidence: res.Confidence,
					Backend:    localTier.ID,
				}
			}
			prompt = repair.Prompt(r.t.Category, res.Text)
		case backend.ResultProtocolError:
			r.record(localTier.ID, task.OutcomeLowConfidence, 0, res.Note, e.now)
			prompt = repair.Prompt(r.t.Category, res.Text)
		case backend.ResultTimeout:
			r.record(localTier.ID, task.OutcomeTimeout, 0, res.Note, e.now)
			e.breakers.Trip(localTier.ID, e.cfg.BreakerCooldown())
			return task.Response{}, false
		}
	}
	return task.Response{}, false
}

// cloudAttempt invokes one remote tier and applies the ladder rules: accept
// at the global threshold, continue on low confidence, trip the breaker on
// timeout, and launch the primary tier's special fallback chain when the
// designated primary times out.
func (e *Engine) cloudAttempt(ctx context.Context, r *run, tr tier.Tier, model string) (task.Response, bool) {
	if model == "" {
		model = tr.Model
	}
	if e.breakers.IsBlocked(tr.ID) {
		r.record(tr.ID, task.OutcomeBlocked, 0, "breaker cooling down", e.now)
		return task.Response{}, false
	}

	res := e.invoke(ctx, tr, model, r.t.Prompt)
	switch res.Kind {
	case backend.ResultOK:
		if res.Confidence >= e.cfg.GlobalConfidenceMin {
			r.record(tr.ID, task.OutcomeOK, res.Confidence, "", e.now)
			return e.succeed(r, tr.ID, res.Text, res.Confidence), true
		}
		r.record(tr.ID, task.OutcomeLowConfidence, res.Confidence, res.Note, e.now)
	case backend.ResultProtocolError:
		r.record(tr.ID, task.OutcomeLowConfidence, 0, res.Note, e.now)
	case backend.ResultTimeout:
		r.record(tr.ID, task.OutcomeTimeout, 0, res.Note, e.now)
		e.breakers.Trip(tr.ID, e.cfg.BreakerCooldown())
		if e.isPrimaryFamily(tr) {
			if resp, ok := e.primaryFallback(ctx, r); ok {
				return resp, true
			}
		}
	}
	return task.Response{}, false
}

// forcedAttempt tries a caller-forced model ahead of the ladder, through the
// remote path directly. A forced model from the primary family that times
// out falls through the same special fallback chain as an organic primary
// timeout.
func (e *Engine) forcedAttempt(ctx context.Context, r *run, model string) (task.Response, bool) {
	tr, ok := e.catalog.TierForModel(model)
	if !ok || tr.Kind != tier.KindRemote {
		// Unknown forced models ride the primary tier's provider and timeout.
		if pt, okPrimary := e.catalog.Tier(e.catalog.Primary()); okPrimary {
			tr = pt
		} else {
			r.notes = append(r.notes, "forceModel ignored: no remote tier can serve "+model)
			return task.Response{}, false
		}
	}
	return e.cloudAttempt(ctx, r, tr, model)
}

// isPrimaryFamily reports whether a tier belongs to the designated primary
// remote family (the primary tier itself, or the same provider).
func (e *Engine) isPrimaryFamily(tr tier.Tier) bool {
	primary := e.catalog.Primary()
	if primary == "" {
		return false
	}
	if tr.ID == primary {
		return true
	}
	pt, ok := e.catalog.Tier(primary)
	return ok && pt.Provider == tr.Provider
}

// primaryFallback is the two-step chain fired when the primary remote tier
// times out: the designated secondary once, then local once, outside the
// normal ladder bounds.
func (e *Engine) primaryFallback(ctx context.Context, r *run) (task.Response, bool) {
	if sec := e.catalog.Secondary(); sec != "" {
		if st, ok := e.catalog.Tier(sec); ok && !e.breakers.IsBlocked(sec) {
			res := e.invoke(ctx, st, st.Model, r.t.Prompt)
			switch res.Kind {
			case backend.ResultOK:
				if res.Confidence >= e.cfg.GlobalConfidenceMin {
					r.record(sec, task.OutcomeOK, res.Confidence, "", e.now)
					return e.succeed(r, sec, res.Text, res.Confidence), true
				}
				r.record(sec, task.OutcomeLowConfidence, res.Confidence, res.Note, e.now)
			case backend.ResultProtocolError:
				r.record(sec, task.OutcomeLowConfidence, 0, res.Note, e.now)
			case backend.ResultTimeout:
				r.record(sec, task.OutcomeTimeout, 0, res.Note, e.now)
				e.breakers.Trip(sec, e.cfg.BreakerCooldown())
			}
		}
	}

	// Local once more, with the original prompt.
	if e.resolver == nil {
		return task.Response{}, false
	}
	var localTier tier.Tier
	found := false
	for _, id := range e.catalog.ResolveLadder(r.t.Category) {
		if tr, ok := e.catalog.Tier(id); ok && tr.Kind == tier.KindLocal {
			localTier = tr
			found = true
			break
		}
	}
	if !found || e.breakers.IsBlocked(localTier.ID) {
		return task.Response{}, false
	}
	model, err := e.resolver.Active(ctx, r.t)
	if err != nil {
		r.record(localTier.ID, task.OutcomeError, 0, RedactSecrets(err.Error(), e.secrets), e.now)
		return task.Response{}, false
	}
	res := e.invoke(ctx, localTier, model, r.t.Prompt)
	switch res.Kind {
	case backend.ResultOK:
		if res.Confidence >= r.localMin {
			r.record(localTier.ID, task.OutcomeOK, res.Confidence, "", e.now)
			return e.succeed(r, localTier.ID, res.Text, res.Confidence), true
		}
		r.record(localTier.ID, task.OutcomeLowConfidence, res.Confidence, res.Note, e.now)
	case backend.ResultProtocolError:
		r.record(localTier.ID, task.OutcomeLowConfidence, 0, res.Note, e.now)
	case backend.ResultTimeout:
		r.record(localTier.ID, task.OutcomeTimeout, 0, res.Note, e.now)
		e.breakers.Trip(localTier.ID, e.cfg.BreakerCooldown())
	}
	return task.Response{}, false
}

// succeed caches and returns a winning response.
func (e *Engine) succeed(r *run, backendID, text string, confidence float64) task.Response {
	resp := task.Response{
		Text:       text,
		Confidence: confidence,
		Backend:    backendID,
		Attempts:   r.attempts,
	}
	e.cache.Put(r.fp, resp, e.cfg.CacheTTL())
	e.log.Debug("dispatch succeeded",
		zap.String("category", r.t.Category),
		zap.String("backend", backendID),
		zap.Float64("confidence", confidence),
		zap.Int("attempts", len(r.attempts)))
	e.audit(r.t, resp)
	return resp
}

// audit forwards a completed dispatch to the registered audit sink, if any.
func (e *Engine) audit(t task.Task, resp task.Response) {
	if sink, ok := e.caps.Audit(); ok {
		sink.RecordDispatch(t, resp)
	}
}
