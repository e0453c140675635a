package modelkit

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider is a deterministic, in-process Provider for tests and local
// smoke-runs: each Generate call pops the next queued GenerateOutput (or
// invokes the next queued function), so test scenarios can script exact
// model behavior without a network call.
type StubProvider struct {
	mu      sync.Mutex
	queue   []func(GenerateInput) (*GenerateOutput, error)
	calls   []GenerateInput
	records []ModelRecord
}

// NewStubProvider returns a StubProvider with no queued responses; Generate
// will error until one is queued via Enqueue or EnqueueFunc.
func NewStubProvider(records []ModelRecord) *StubProvider {
	return &StubProvider{records: records}
}

func (p *StubProvider) Name() string        { return "stub" }
func (p *StubProvider) SupportsTools() bool  { return true }

// Enqueue schedules out as the result of the next Generate call.
func (p *StubProvider) Enqueue(out GenerateOutput) {
	p.EnqueueFunc(func(GenerateInput) (*GenerateOutput, error) { return &out, nil })
}

// EnqueueFunc schedules fn to produce the next Generate call's result,
// letting a test scenario inspect the accumulated input (e.g. to branch on
// whether a particular tool result is now present in the transcript).
func (p *StubProvider) EnqueueFunc(fn func(GenerateInput) (*GenerateOutput, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, fn)
}

// Calls returns every GenerateInput this provider has received, in order,
// for test assertions on prompt composition.
func (p *StubProvider) Calls() []GenerateInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]GenerateInput(nil), p.calls...)
}

// Generate pops and invokes the next queued response. It errors if the
// queue is empty, since an unscripted call almost always indicates a test
// scenario that under-counted turn iterations.
func (p *StubProvider) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	p.mu.Lock()
	p.calls = append(p.calls, in)
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("stub provider: no queued response for call %d", len(p.calls))
	}
	fn := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()
	return fn(in)
}

// ListModelRecords returns the provider's configured model catalog, for
// Router.Resolve.
func (p *StubProvider) ListModelRecords() []ModelRecord {
	return p.records
}

// DefaultStubRecords returns a small fixed catalog useful for local
// smoke-runs and tests that don't care about model selection details.
func DefaultStubRecords() []ModelRecord {
	return []ModelRecord{
		{
			Provider:       "stub",
			ModelID:        "stub-default",
			Name:           "Stub Default",
			ContextWindow:  200000,
			SupportsTools:  true,
			SupportsVision: false,
		},
	}
}
