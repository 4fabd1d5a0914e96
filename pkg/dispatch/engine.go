// Package dispatch implements the task dispatch engine: admission control,
// fault isolation, response caching, confidence-gated retry and the
// multi-hop fallback ladder across local and remote backends.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/breaker"
	"github.com/zen-systems/routegate/pkg/budget"
	"github.com/zen-systems/routegate/pkg/cache"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/task"
	"github.com/zen-systems/routegate/pkg/tier"
)

// liveProber is implemented by the local invoker; constrained mode gates
// admission on it instead of token counts.
type liveProber interface {
	Alive(ctx context.Context) bool
}

// Engine owns all shared dispatch state: the response cache, the admission
// buckets, the breaker registry, the local-model resolver and the pause
// flag. There are no package-level singletons; construct one Engine per
// deployment and share it across callers.
type Engine struct {
	cfg      *config.RoutingConfig
	catalog  *tier.Catalog
	resolver *tier.ModelResolver
	invokers map[string]backend.Invoker
	prober   liveProber

	cache    *cache.Store
	buckets  *budget.Limiter
	breakers *breaker.Registry
	caps     *Capabilities

	log     *zap.Logger
	secrets []string
	now     func() time.Time

	mu     sync.Mutex
	paused bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCapabilities installs a pre-populated capability set.
func WithCapabilities(caps *Capabilities) Option {
	return func(e *Engine) {
		if caps != nil {
			e.caps = caps
		}
	}
}

// WithSecrets registers credential values to redact from surfaced messages.
func WithSecrets(secrets []string) Option {
	return func(e *Engine) {
		e.secrets = secrets
	}
}

// New creates an engine over a validated routing config and a provider map
// keyed by invoker name. If the local provider also lists models and probes
// liveness, the engine wires it into local selection and constrained-mode
// admission automatically.
func New(cfg *config.RoutingConfig, invokers map[string]backend.Invoker, opts ...Option) *Engine {
	cfg.ApplyDefaults()
	e := &Engine{
		cfg:      cfg,
		catalog:  tier.NewCatalog(cfg),
		invokers: invokers,
		caps:     NewCapabilities(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cache = cache.NewWithClock(e.now)
	e.breakers = breaker.NewWithClock(e.now)

	capacities := make(map[task.TrafficClass]int, len(cfg.Buckets))
	for name, cap := range cfg.Buckets {
		capacities[task.TrafficClass(name)] = cap
	}
	e.buckets = budget.NewWithClock(capacities, e.now)

	if local, ok := invokers["local"]; ok {
		if lister, ok := local.(tier.ModelLister); ok {
			e.resolver = tier.NewModelResolver(lister, cfg.Scoring, cfg.ModelCacheTTL())
			e.resolver.SetClock(e.now)
		}
		if prober, ok := local.(liveProber); ok {
			e.prober = prober
		}
	}

	return e
}

// Capabilities returns the engine's capability registry so optional
// enhancers can register themselves at startup.
func (e *Engine) Capabilities() *Capabilities {
	return e.caps
}

// Pause makes all new dispatches return a fixed paused response. In-flight
// backend calls run to completion.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume clears the pause flag.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ClearCache drops all cached responses.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// ResetBreakers clears every tier cooldown.
func (e *Engine) ResetBreakers() {
	e.breakers.ResetAll()
}

// RefreshModels invalidates the memoized local model listing.
func (e *Engine) RefreshModels() {
	if e.resolver != nil {
		e.resolver.Refresh()
	}
}

// EngineState is the snapshot served to the administrative surface.
type EngineState struct {
	Paused           bool                               `json:"paused"`
	Buckets          map[task.TrafficClass]budget.Level `json:"buckets"`
	BreakerCooldowns map[string]time.Time               `json:"breaker_cooldowns"`
	CacheEntries     int                                `json:"cache_entries"`
	ActiveLocalModel string                             `json:"active_local_model,omitempty"`
}

// State snapshots the engine's shared state.
func (e *Engine) State() EngineState {
	st := EngineState{
		Paused:           e.Paused(),
		Buckets:          e.buckets.Levels(),
		BreakerCooldowns: e.breakers.Cooldowns(),
		CacheEntries:     e.cache.Len(),
	}
	if e.resolver != nil {
		st.ActiveLocalModel = e.resolver.LastSelected()
	}
	return st
}

// localAlive reports whether the local backend passes its liveness probe.
func (e *Engine) localAlive(ctx context.Context) bool {
	return e.prober != nil && e.prober.Alive(ctx)
}

// invoke calls a tier's provider. The engine holds no locks here; backend
// invocation is the only blocking step and is bounded by the tier timeout.
func (e *Engine) invoke(ctx context.Context, tr tier.Tier, model, prompt string) backend.Result {
	inv, ok := e.invokers[tr.Provider]
	if !ok {
		return backend.ProtocolError("provider " + tr.Provider + " not configured")
	}
	res := inv.Invoke(ctx, model, prompt, tr.Timeout)
	res.Note = RedactSecrets(res.Note, e.secrets)
	return res
}
