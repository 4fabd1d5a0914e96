package tier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/task"
)

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]backend.Model, error)
}

// ModelResolver selects the active local model per task, memoizing the
// backend's model listing for a configurable window so not every dispatch
// pays for a capability probe. A zero TTL disables memoization entirely.
type ModelResolver struct {
	mu        sync.Mutex
	lister    ModelLister
	scoring   config.ScoringConfig
	ttl       time.Duration
	now       func() time.Time
	models    []string
	fetchedAt time.Time
	lastPick  string
}

// NewModelResolver creates a resolver over a model-listing backend.
func NewModelResolver(lister ModelLister, scoring config.ScoringConfig, ttl time.Duration) *ModelResolver {
	return &ModelResolver{
		lister:  lister,
		scoring: scoring,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Active resolves the local model to use for a task. The listing fetch is
// the only part that touches the network and the only part that is cached;
// selection itself is deterministic per task.
func (r *ModelResolver) Active(ctx context.Context, t task.Task) (string, error) {
	models, err := r.available(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", fmt.Errorf("local backend reports no models")
	}

	pick := SelectLocalModel(models, t, r.scoring)

	r.mu.Lock()
	r.lastPick = pick
	r.mu.Unlock()
	return pick, nil
}

func (r *ModelResolver) available(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	if r.ttl > 0 && r.models != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		cached := append([]string(nil), r.models...)
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	// Listing happens outside the lock; it is a network call.
	listed, err := r.lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local models: %w", err)
	}

	ids := make([]string, 0, len(listed))
	for _, m := range listed {
		ids = append(ids, m.ID)
	}

	r.mu.Lock()
	r.models = ids
	r.fetchedAt = r.now()
	r.mu.Unlock()
	return append([]string(nil), ids...), nil
}

// Refresh invalidates the memoized listing; the next Active call probes the
// backend again.
func (r *ModelResolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = nil
	r.fetchedAt = time.Time{}
}

// LastSelected returns the most recently selected local model, if any.
func (r *ModelResolver) LastSelected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPick
}

// SetClock overrides the resolver's clock, for tests.
func (r *ModelResolver) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
