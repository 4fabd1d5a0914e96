// Package breaker tracks per-tier cooldowns after backend timeouts.
//
// The registry is shared across all concurrent dispatches: a single timeout
// observed by any caller suppresses that tier for every caller until the
// cooldown expires. This is intentional fault isolation.
package breaker

import (
	"sort"
	"sync"
	"time"
)

// Registry maps tier ids to cooldown deadlines. A tier is blocked while
// now < cooldownUntil. Entries self-expire; they are only removed by an
// administrative reset.
type Registry struct {
	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	now           func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty registry with an injectable clock.
func NewWithClock(now func() time.Time) *Registry {
	return &Registry{cooldownUntil: make(map[string]time.Time), now: now}
}

// IsBlocked reports whether the tier is inside its cooldown window.
func (r *Registry) IsBlocked(tierID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldownUntil[tierID].After(r.now())
}

// Trip opens the breaker for a tier. Called on invocation timeouts, never on
// low-confidence responses.
func (r *Registry) Trip(tierID string, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldownUntil[tierID] = r.now().Add(cooldown)
}

// ResetAll clears every cooldown.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldownUntil = make(map[string]time.Time)
}

// Blocked returns the ids of currently blocked tiers in sorted order.
func (r *Registry) Blocked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	now := r.now()
	for id, until := range r.cooldownUntil {
		if until.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Cooldowns returns a copy of the active cooldown deadlines.
func (r *Registry) Cooldowns() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]time.Time)
	now := r.now()
	for id, until := range r.cooldownUntil {
		if until.After(now) {
			out[id] = until
		}
	}
	return out
}
