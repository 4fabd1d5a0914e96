package dispatch

import (
	"sync"

	"github.com/zen-systems/routegate/pkg/task"
)

// Capability names used by the engine.
const (
	CapQueue = "queue"
	CapAudit = "audit"
)

// Queuer accepts tasks deferred by the `queue` override.
type Queuer interface {
	Enqueue(t task.Task) error
}

// AuditSink receives each completed dispatch with its attempt trail.
type AuditSink interface {
	RecordDispatch(t task.Task, resp task.Response)
}

// Capabilities is an explicit registry for optional integrations. Enhancers
// register themselves at startup; the engine checks the set instead of
// probing for importable modules.
type Capabilities struct {
	mu  sync.RWMutex
	set map[string]any
}

// NewCapabilities creates an empty capability set.
func NewCapabilities() *Capabilities {
	return &Capabilities{set: make(map[string]any)}
}

// Register installs a capability under a name, replacing any prior one.
func (c *Capabilities) Register(name string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set[name] = v
}

// Lookup returns a registered capability.
func (c *Capabilities) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.set[name]
	return v, ok
}

// Queue returns the registered queue capability, if present and conformant.
func (c *Capabilities) Queue() (Queuer, bool) {
	v, ok := c.Lookup(CapQueue)
	if !ok {
		return nil, false
	}
	q, ok := v.(Queuer)
	return q, ok
}

// Audit returns the registered audit sink, if present and conformant.
func (c *Capabilities) Audit() (AuditSink, bool) {
	v, ok := c.Lookup(CapAudit)
	if !ok {
		return nil, false
	}
	a, ok := v.(AuditSink)
	return a, ok
}
