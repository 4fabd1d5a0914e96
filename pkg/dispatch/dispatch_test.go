package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/task"
)

// testModel is the single model the mock local server advertises. With no
// family table match it scores the base 1 and is always selected.
const testModel = "test-model"

func testRoutingConfig() *config.RoutingConfig {
	enabled := true
	cfg := &config.RoutingConfig{
		Tiers: []config.TierConfig{
			{ID: "local", Kind: "local", Provider: "local", TimeoutSeconds: 5},
			{ID: "cloud-primary", Kind: "remote", Provider: "alpha", Model: "alpha-large", TimeoutSeconds: 5},
			{ID: "cloud-secondary", Kind: "remote", Provider: "beta", Model: "beta-large", TimeoutSeconds: 5},
			{ID: "cloud-overflow", Kind: "remote", Provider: "gamma", Model: "gamma-large", TimeoutSeconds: 5},
		},
		Ladders: map[string][]string{
			"status": {"local", "cloud-secondary"},
			"code":   {"local", "cloud-primary", "cloud-secondary", "cloud-overflow"},
		},
		DefaultLadder:       []string{"local", "cloud-primary", "cloud-secondary", "cloud-overflow"},
		PrimaryTier:         "cloud-primary",
		SecondaryTier:       "cloud-secondary",
		OptionalTierEnabled: &enabled,
		Buckets: map[string]int{
			"interactive": 5,
			"background":  2,
			"general":     5,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

type engineFixture struct {
	engine *Engine
	local  *backend.MockInvoker
	alpha  *backend.MockInvoker
	beta   *backend.MockInvoker
	gamma  *backend.MockInvoker
}

func newFixture(cfg *config.RoutingConfig, withLocal bool) *engineFixture {
	f := &engineFixture{
		local: backend.NewMockInvoker("local").SetModels(testModel),
		alpha: backend.NewMockInvoker("alpha"),
		beta:  backend.NewMockInvoker("beta"),
		gamma: backend.NewMockInvoker("gamma"),
	}
	invokers := map[string]backend.Invoker{
		"alpha": f.alpha,
		"beta":  f.beta,
		"gamma": f.gamma,
	}
	if withLocal {
		invokers["local"] = f.local
	}
	f.engine = New(cfg, invokers)
	return f
}

func TestScenarioLocalFirstTry(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel, backend.OK("pong", 0.9))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status",
		Risk:     task.RiskLow,
		Prompt:   "ping",
		Class:    task.ClassInteractive,
	})

	if resp.Failed {
		t.Fatalf("dispatch failed: %s", resp.Text)
	}
	if resp.Backend != "local" {
		t.Errorf("Backend = %s, want local", resp.Backend)
	}
	if resp.Text != "pong" {
		t.Errorf("Text = %q, want pong", resp.Text)
	}
	if len(resp.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(resp.Attempts))
	}
	if resp.Attempts[0].Outcome != task.OutcomeOK {
		t.Errorf("attempt outcome = %s, want ok", resp.Attempts[0].Outcome)
	}
}

func TestScenarioLocalExhaustedEscalatesByCategory(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel,
		backend.OK("bad json", 0.4),
		backend.OK("still bad", 0.4),
	)
	f.alpha.Script("alpha-large", backend.OK("clean output", 0.9))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "code",
		Risk:     task.RiskLow,
		Prompt:   "write a parser",
		Class:    task.ClassGeneral,
	})

	if resp.Failed {
		t.Fatalf("dispatch failed: %s", resp.Text)
	}
	if resp.Backend != "cloud-primary" {
		t.Errorf("Backend = %s, want cloud-primary", resp.Backend)
	}
	if got := f.local.CallCount(testModel); got != 2 {
		t.Errorf("local attempts = %d, want maxLocalAttempts=2", got)
	}

	// The second local attempt must carry a repair prompt built from the
	// first attempt's raw output, not the original prompt.
	calls := f.local.Calls()
	if calls[1].Prompt == "write a parser" {
		t.Error("second local attempt reused the original prompt instead of a repair prompt")
	}
	if !strings.Contains(calls[1].Prompt, "bad json") {
		t.Error("repair prompt does not embed the prior attempt's output")
	}

	wantOutcomes := []task.Outcome{task.OutcomeLowConfidence, task.OutcomeLowConfidence, task.OutcomeOK}
	if len(resp.Attempts) != len(wantOutcomes) {
		t.Fatalf("attempts = %d, want %d", len(resp.Attempts), len(wantOutcomes))
	}
	for i, want := range wantOutcomes {
		if resp.Attempts[i].Outcome != want {
			t.Errorf("attempt %d outcome = %s, want %s", i, resp.Attempts[i].Outcome, want)
		}
	}
}

func TestScenarioPrimaryTimeoutFallsBackToSecondary(t *testing.T) {
	f := newFixture(testRoutingConfig(), false)
	f.alpha.Script("alpha-large", backend.Timeout("alpha: deadline exceeded"))
	f.beta.Script("beta-large", backend.OK("secondary answer", 0.85))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "code",
		Risk:     task.RiskLow,
		Prompt:   "write a parser",
		Class:    task.ClassGeneral,
	})

	if resp.Failed {
		t.Fatalf("dispatch failed: %s", resp.Text)
	}
	if resp.Backend != "cloud-secondary" {
		t.Errorf("Backend = %s, want cloud-secondary", resp.Backend)
	}
	if len(resp.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(resp.Attempts))
	}
	if resp.Attempts[0].Outcome != task.OutcomeTimeout || resp.Attempts[1].Outcome != task.OutcomeOK {
		t.Errorf("attempt outcomes = %s, %s, want timeout then ok",
			resp.Attempts[0].Outcome, resp.Attempts[1].Outcome)
	}
	if f.beta.CallCount("beta-large") != 1 {
		t.Errorf("secondary invoked %d times, want once", f.beta.CallCount("beta-large"))
	}

	// The timeout must have tripped the primary tier's breaker.
	st := f.engine.State()
	if _, blocked := st.BreakerCooldowns["cloud-primary"]; !blocked {
		t.Error("primary tier breaker not tripped after timeout")
	}
}

func TestScenarioBudgetExhausted(t *testing.T) {
	cfg := testRoutingConfig()
	cfg.Buckets["background"] = 0
	f := newFixture(cfg, true)

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status",
		Risk:     task.RiskLow,
		Prompt:   "ping",
		Class:    task.ClassBackground,
	})

	if !resp.Failed {
		t.Fatal("dispatch should have failed on an empty bucket")
	}
	if !strings.Contains(resp.Text, "budgetExhausted") {
		t.Errorf("report does not mention budgetExhausted:\n%s", resp.Text)
	}
	if f.local.CallCount("") != 0 {
		t.Error("backend invoked despite admission denial")
	}
}

func TestScenarioForcedModelTimeoutUsesPrimaryFallback(t *testing.T) {
	f := newFixture(testRoutingConfig(), false)
	f.alpha.Script("alpha-large", backend.Timeout("alpha: deadline exceeded"))
	f.beta.Script("beta-large", backend.OK("secondary answer", 0.85))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "chat",
		Risk:     task.RiskLow,
		Prompt:   "hello there",
		Override: "forceModel:alpha-large",
		Class:    task.ClassGeneral,
	})

	if resp.Failed {
		t.Fatalf("dispatch failed: %s", resp.Text)
	}
	if resp.Backend != "cloud-secondary" {
		t.Errorf("Backend = %s, want cloud-secondary via the special fallback", resp.Backend)
	}
	if f.alpha.CallCount("alpha-large") != 1 {
		t.Errorf("forced model invoked %d times, want once", f.alpha.CallCount("alpha-large"))
	}
}

func TestCacheHitIsIdempotentAndFree(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel, backend.OK("pong", 0.9))

	tk := task.Task{
		Category: "status",
		Risk:     task.RiskLow,
		Prompt:   "ping",
		Class:    task.ClassInteractive,
	}

	first := f.engine.Dispatch(context.Background(), tk)
	if first.Failed || first.Cached {
		t.Fatalf("unexpected first response: %+v", first)
	}
	levelAfterFirst := f.engine.State().Buckets[task.ClassInteractive].Remaining

	second := f.engine.Dispatch(context.Background(), tk)
	if !second.Cached {
		t.Fatal("second dispatch was not served from cache")
	}
	if second.Text != first.Text {
		t.Errorf("cached text %q differs from original %q", second.Text, first.Text)
	}
	if got := f.engine.State().Buckets[task.ClassInteractive].Remaining; got != levelAfterFirst {
		t.Errorf("cache hit consumed budget: %d -> %d", levelAfterFirst, got)
	}
	if f.local.CallCount("") != 1 {
		t.Errorf("backend invoked %d times, want 1", f.local.CallCount(""))
	}
}

func TestHopBoundRoutineVsCritical(t *testing.T) {
	lowConf := backend.OK("weak", 0.1)

	t.Run("routine risk stops at MaxHopsRoutine", func(t *testing.T) {
		f := newFixture(testRoutingConfig(), false)
		f.alpha.SetDefault(lowConf)
		f.beta.SetDefault(lowConf)
		f.gamma.SetDefault(lowConf)

		resp := f.engine.Dispatch(context.Background(), task.Task{
			Category: "code",
			Risk:     task.RiskLow,
			Prompt:   "write a parser",
			Class:    task.ClassGeneral,
		})
		if !resp.Failed {
			t.Fatal("expected failure with only low-confidence tiers")
		}
		if f.gamma.CallCount("") != 0 {
			t.Error("third cloud tier attempted past the routine hop bound")
		}
	})

	t.Run("critical risk gets the larger bound", func(t *testing.T) {
		f := newFixture(testRoutingConfig(), false)
		f.alpha.SetDefault(lowConf)
		f.beta.SetDefault(lowConf)
		f.gamma.SetDefault(lowConf)

		f.engine.Dispatch(context.Background(), task.Task{
			Category: "code",
			Risk:     task.RiskHigh,
			Prompt:   "write a parser",
			Class:    task.ClassGeneral,
		})
		if f.gamma.CallCount("") != 1 {
			t.Errorf("third cloud tier attempted %d times under critical risk, want 1", f.gamma.CallCount(""))
		}
	})

	t.Run("retryCloud lifts the bound", func(t *testing.T) {
		f := newFixture(testRoutingConfig(), false)
		f.alpha.SetDefault(lowConf)
		f.beta.SetDefault(lowConf)
		f.gamma.SetDefault(lowConf)

		f.engine.Dispatch(context.Background(), task.Task{
			Category: "code",
			Risk:     task.RiskLow,
			Prompt:   "write a parser",
			Override: "retryCloud",
			Class:    task.ClassGeneral,
		})
		if f.gamma.CallCount("") != 1 {
			t.Errorf("overflow tier attempted %d times under retryCloud, want 1", f.gamma.CallCount(""))
		}
	})
}

func TestLowRiskWithoutEscalationReturnsLocalResult(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel,
		backend.OK("half decent answer", 0.5),
		backend.OK("another half decent answer", 0.55),
	)

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "chat",
		Risk:     task.RiskLow,
		Prompt:   "hello",
		Class:    task.ClassGeneral,
	})

	if resp.Failed {
		t.Fatalf("low-risk dispatch with a local answer should not fail: %s", resp.Text)
	}
	if resp.Backend != "local" {
		t.Errorf("Backend = %s, want local", resp.Backend)
	}
	if resp.Confidence != 0.55 {
		t.Errorf("Confidence = %v, want the best local attempt 0.55", resp.Confidence)
	}
	if f.alpha.CallCount("") != 0 {
		t.Error("cloud tier invoked for a low-risk task with no escalation trigger")
	}
}

func TestLowRiskWithoutLocalResultFailsSkipped(t *testing.T) {
	f := newFixture(testRoutingConfig(), false)

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "chat",
		Risk:     task.RiskLow,
		Prompt:   "hello",
		Class:    task.ClassGeneral,
	})

	if !resp.Failed {
		t.Fatal("expected a skipped failure report")
	}
	if !strings.Contains(resp.Text, "skipped") {
		t.Errorf("report does not mention skipped:\n%s", resp.Text)
	}
}

func TestLowerConfidenceOverride(t *testing.T) {
	t.Run("lowers the local threshold", func(t *testing.T) {
		f := newFixture(testRoutingConfig(), true)
		f.local.Script(testModel, backend.OK("okay answer", 0.5))

		resp := f.engine.Dispatch(context.Background(), task.Task{
			Category: "chat",
			Risk:     task.RiskLow,
			Prompt:   "hello",
			Override: "lowerConfidence:0.45",
			Class:    task.ClassGeneral,
		})
		if resp.Failed || resp.Backend != "local" {
			t.Fatalf("local answer not accepted at lowered threshold: %+v", resp)
		}
		if len(resp.Attempts) != 1 {
			t.Errorf("attempts = %d, want 1", len(resp.Attempts))
		}
	})

	t.Run("only ever lowers", func(t *testing.T) {
		f := newFixture(testRoutingConfig(), true)
		f.local.Script(testModel, backend.OK("okay answer", 0.75))

		resp := f.engine.Dispatch(context.Background(), task.Task{
			Category: "chat",
			Risk:     task.RiskLow,
			Prompt:   "hello",
			Override: "lowerConfidence:0.95",
			Class:    task.ClassGeneral,
		})
		// 0.75 passes the configured 0.7 minimum; the higher override value
		// must not raise the bar.
		if resp.Failed || resp.Backend != "local" {
			t.Fatalf("override raised the local threshold: %+v", resp)
		}
	})
}

func TestPausedReturnsImmediately(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.engine.Pause()

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status",
		Risk:     task.RiskLow,
		Prompt:   "ping",
		Class:    task.ClassInteractive,
	})

	if !strings.Contains(resp.Text, "paused") {
		t.Errorf("Text = %q, want a paused notice", resp.Text)
	}
	if f.local.CallCount("") != 0 {
		t.Error("backend invoked while paused")
	}
	level := f.engine.State().Buckets[task.ClassInteractive]
	if level.Remaining != level.Capacity {
		t.Error("budget consumed while paused")
	}

	f.engine.Resume()
	f.local.Script(testModel, backend.OK("pong", 0.9))
	if resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status", Risk: task.RiskLow, Prompt: "ping", Class: task.ClassInteractive,
	}); resp.Failed {
		t.Errorf("dispatch failed after resume: %s", resp.Text)
	}
}

func TestRemoteFirstFastPath(t *testing.T) {
	cfg := testRoutingConfig()
	cfg.Policy = config.PolicyRemoteFirst

	t.Run("primary tried ahead of local", func(t *testing.T) {
		f := newFixture(cfg, true)
		f.alpha.Script("alpha-large", backend.OK("cloud answer", 0.9))

		resp := f.engine.Dispatch(context.Background(), task.Task{
			Category: "chat",
			Risk:     task.RiskLow,
			Prompt:   "hello",
			Class:    task.ClassGeneral,
		})
		if resp.Failed || resp.Backend != "cloud-primary" {
			t.Fatalf("fast path not taken: %+v", resp)
		}
		if f.local.CallCount("") != 0 {
			t.Error("local invoked despite a fast-path cloud success")
		}
	})

	t.Run("retryLocal pins local first", func(t *testing.T) {
		f := newFixture(cfg, true)
		f.local.Script(testModel, backend.OK("local answer", 0.9))

		resp := f.engine.Dispatch(context.Background(), task.Task{
			Category: "chat",
			Risk:     task.RiskLow,
			Prompt:   "hello",
			Override: "retryLocal",
			Class:    task.ClassGeneral,
		})
		if resp.Failed || resp.Backend != "local" {
			t.Fatalf("retryLocal did not pin local: %+v", resp)
		}
		if f.alpha.CallCount("") != 0 {
			t.Error("primary invoked despite retryLocal")
		}
	})
}

func TestBreakerSkipsBlockedTier(t *testing.T) {
	f := newFixture(testRoutingConfig(), false)
	f.alpha.Script("alpha-large", backend.Timeout("alpha: deadline exceeded"))
	f.beta.SetDefault(backend.OK("weak", 0.1))

	// First dispatch trips the primary breaker (secondary fallback answers
	// low, local is absent).
	first := f.engine.Dispatch(context.Background(), task.Task{
		Category: "code", Risk: task.RiskLow, Prompt: "one", Class: task.ClassGeneral,
	})
	if !first.Failed {
		t.Fatalf("expected first dispatch to fail: %+v", first)
	}

	alphaCalls := f.alpha.CallCount("")
	second := f.engine.Dispatch(context.Background(), task.Task{
		Category: "code", Risk: task.RiskLow, Prompt: "two", Class: task.ClassGeneral,
	})
	if f.alpha.CallCount("") != alphaCalls {
		t.Error("blocked primary tier was invoked again inside its cooldown")
	}

	foundBlocked := false
	for _, a := range second.Attempts {
		if a.TierID == "cloud-primary" && a.Outcome == task.OutcomeBlocked {
			foundBlocked = true
		}
	}
	if !foundBlocked {
		t.Error("attempt log does not record the blocked primary tier")
	}
}

func TestQueueOverride(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)

	var queued []task.Task
	f.engine.Capabilities().Register(CapQueue, queuerFunc(func(t task.Task) error {
		queued = append(queued, t)
		return nil
	}))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "chat",
		Risk:     task.RiskLow,
		Prompt:   "later please",
		Override: "queue",
		Class:    task.ClassBackground,
	})

	if resp.Failed || resp.Backend != "queue" {
		t.Fatalf("queue override not honored: %+v", resp)
	}
	if len(queued) != 1 || queued[0].Prompt != "later please" {
		t.Errorf("queued tasks = %+v", queued)
	}
	if f.local.CallCount("") != 0 {
		t.Error("backend invoked for a queued task")
	}
}

func TestQueueOverrideWithoutCapabilityProceeds(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel, backend.OK("pong", 0.9))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status",
		Risk:     task.RiskLow,
		Prompt:   "ping",
		Override: "queue",
		Class:    task.ClassGeneral,
	})

	if resp.Failed || resp.Backend != "local" {
		t.Fatalf("dispatch without queue capability should proceed normally: %+v", resp)
	}
}

func TestAuditSinkReceivesDispatches(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.Script(testModel, backend.OK("pong", 0.9))

	var seen []task.Response
	f.engine.Capabilities().Register(CapAudit, auditFunc(func(_ task.Task, resp task.Response) {
		seen = append(seen, resp)
	}))

	f.engine.Dispatch(context.Background(), task.Task{
		Category: "status", Risk: task.RiskLow, Prompt: "ping", Class: task.ClassGeneral,
	})
	// Cache hit dispatches are audited too.
	f.engine.Dispatch(context.Background(), task.Task{
		Category: "status", Risk: task.RiskLow, Prompt: "ping", Class: task.ClassGeneral,
	})

	if len(seen) != 2 {
		t.Fatalf("audit sink saw %d dispatches, want 2", len(seen))
	}
	if !seen[1].Cached {
		t.Error("second audited dispatch should be the cached one")
	}
}

func TestFailureReportContents(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.local.SetDefault(backend.OK("weak local answer", 0.3))
	f.alpha.Script("alpha-large", backend.Timeout("alpha: deadline exceeded"))
	f.beta.SetDefault(backend.OK("weak", 0.1))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "code",
		Risk:     task.RiskLow,
		Prompt:   "write a parser",
		Class:    task.ClassGeneral,
	})

	if !resp.Failed {
		t.Fatalf("expected failure: %+v", resp)
	}
	for _, want := range []string{
		"category=code",
		"risk=low",
		"budget[general]",
		"best local result",
		"weak local answer",
		"retryLocal",
		"retryCloud",
		"forceModel:<id>",
		"queue",
		"lowerConfidence:<x>",
	} {
		if !strings.Contains(resp.Text, want) {
			t.Errorf("failure report missing %q:\n%s", want, resp.Text)
		}
	}

	// Primary-tier timeouts are rendered generically; the tier has automatic
	// fallbacks and its internal name is not exposed on the timeout line.
	if !strings.Contains(resp.Text, "trying alternatives") {
		t.Errorf("primary timeout not rendered generically:\n%s", resp.Text)
	}
	if strings.Contains(resp.Text, "cloud-primary: timeout") {
		t.Errorf("primary tier name exposed on a timeout line:\n%s", resp.Text)
	}
}

func TestDispatchNeverPanicsOutward(t *testing.T) {
	f := newFixture(testRoutingConfig(), true)
	f.engine.Capabilities().Register(CapAudit, auditFunc(func(task.Task, task.Response) {
		panic("sink exploded with sk-abcdefgh12345678")
	}))
	f.local.Script(testModel, backend.OK("pong", 0.9))

	resp := f.engine.Dispatch(context.Background(), task.Task{
		Category: "status", Risk: task.RiskLow, Prompt: "ping", Class: task.ClassGeneral,
	})

	if !resp.Failed {
		t.Fatal("panic should surface as a failed response")
	}
	if strings.Contains(resp.Text, "sk-abcdefgh12345678") {
		t.Errorf("panic message leaked a credential:\n%s", resp.Text)
	}
}

// queuerFunc adapts a function to the Queuer interface.
type queuerFunc func(t task.Task) error

func (f queuerFunc) Enqueue(t task.Task) error { return f(t) }

// auditFunc adapts a function to the AuditSink interface.
type auditFunc func(t task.Task, resp task.Response)

func (f auditFunc) RecordDispatch(t task.Task, resp task.Response) { f(t, resp) }
