package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockInvoker returns scripted results for deterministic tests.
type MockInvoker struct {
	mu             sync.Mutex
	name           string
	scripts        map[string][]Result
	fallbackResult Result
	calls          []MockCall
	models         []Model
}

// MockCall records one invocation received by the mock.
type MockCall struct {
	Model  string
	Prompt string
}

// NewMockInvoker creates a mock invoker with a default OK result.
func NewMockInvoker(name string) *MockInvoker {
	return &MockInvoker{
		name:           name,
		scripts:        make(map[string][]Result),
		fallbackResult: OK("mock response", 0.9),
	}
}

// Script queues results for a model; they are consumed in order, and the
// last one repeats once the queue is drained.
func (m *MockInvoker) Script(model string, results ...Result) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[model] = append(m.scripts[model], results...)
	return m
}

// SetDefault sets the result returned for unscripted models.
func (m *MockInvoker) SetDefault(r Result) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackResult = r
	return m
}

// SetModels sets the model listing returned by ListModels.
func (m *MockInvoker) SetModels(ids ...string) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = nil
	for _, id := range ids {
		m.models = append(m.models, Model{ID: id})
	}
	return m
}

// Name returns the invoker identifier.
func (m *MockInvoker) Name() string {
	return m.name
}

// Invoke pops the next scripted result for the model.
func (m *MockInvoker) Invoke(_ context.Context, model, prompt string, _ time.Duration) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Model: model, Prompt: prompt})

	queue := m.scripts[model]
	if len(queue) == 0 {
		return m.fallbackResult
	}
	next := queue[0]
	if len(queue) > 1 {
		m.scripts[model] = queue[1:]
	}
	return next
}

// Alive reports whether the mock has any models configured.
func (m *MockInvoker) Alive(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.models) > 0
}

// ListModels returns the configured model listing.
func (m *MockInvoker) ListModels(_ context.Context) ([]Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.models) == 0 {
		return nil, fmt.Errorf("mock %s: no models configured", m.name)
	}
	out := make([]Model, len(m.models))
	copy(out, m.models)
	return out, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockInvoker) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of invocations against a model, or all
// invocations when model is empty.
func (m *MockInvoker) CallCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Model == model {
			n++
		}
	}
	return n
}
