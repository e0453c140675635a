package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the set of tools available to a turn and validates every
// call's input against the tool's declared schema before dispatch.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
	}
}

// Add registers a tool. Re-registering a name overwrites the previous entry,
// which lets callers rebuild a registry's tool set between sessions without
// constructing a new Registry.
func (r *Registry) Add(t Tool) error {
	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name()] = t
	r.schemas[t.Name()] = compiled
	return nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	resource := "mem://" + name + ".json"
	if err := compiler.AddResource(resource, jsonschemaReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Definitions returns every registered tool's Definition, sorted by name so
// the list presented to the model is stable across calls.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.byName))
	for _, t := range r.byName {
		defs = append(defs, Definition{
			Name:                 t.Name(),
			Description:          t.Description(),
			Kind:                 t.Kind(),
			Schema:               t.Schema(),
			RequiresApproval:     t.RequiresApproval(),
			AllowWithoutApproval: t.AllowWithoutApproval(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke validates call.Input against the tool's schema (when one is
// declared) and executes the tool. A schema validation failure produces an
// error Result rather than a Go error, since it is a well-formed outcome of
// a malformed model call, not an internal fault.
func (r *Registry) Invoke(ctx context.Context, call Call) (*Result, error) {
	r.mu.RLock()
	t, ok := r.byName[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}
	if schema != nil && len(call.Input) > 0 {
		if err := validateJSON(schema, call.Input); err != nil {
			return ErrorResult(fmt.Sprintf("invalid input for %s: %v", call.Name, err)), nil
		}
	}
	return t.Execute(ctx, call.Input)
}
