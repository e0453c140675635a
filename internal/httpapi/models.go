package httpapi

import (
	"sync"

	"github.com/agentharness/agentd/internal/config"
	"github.com/agentharness/agentd/internal/modelkit"
)

// ModelService answers the daemon's model-catalog and model-policy routes.
type ModelService interface {
	ListModels() []modelkit.ModelRecord
	Policy() config.ModelPolicy
	SetPolicy(policy config.ModelPolicy)
}

// policySink is something that needs to learn about a new model policy
// immediately, satisfied by turnengine.Engine.SetModelPolicy and
// runengine.Engine.SetModelPolicy.
type policySink interface {
	SetModelPolicy(policy config.ModelPolicy)
}

// ModelCatalog is the concrete ModelService: a fixed model-record catalog
// plus a mutable policy that is pushed out to every registered engine the
// moment it changes, so a POST /v1/model-policy takes effect on the very
// next turn or run resolution.
type ModelCatalog struct {
	records []modelkit.ModelRecord
	sinks   []policySink

	mu     sync.Mutex
	policy config.ModelPolicy
}

// NewModelCatalog returns a ModelCatalog serving records, initialized with
// policy, and propagating future SetPolicy calls to every sink.
func NewModelCatalog(records []modelkit.ModelRecord, policy config.ModelPolicy, sinks ...policySink) *ModelCatalog {
	return &ModelCatalog{records: records, policy: policy, sinks: sinks}
}

// ListModels returns the fixed catalog of known model records.
func (c *ModelCatalog) ListModels() []modelkit.ModelRecord {
	return c.records
}

// Policy returns the currently active model policy.
func (c *ModelCatalog) Policy() config.ModelPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetPolicy replaces the active model policy and propagates it to every
// registered engine.
func (c *ModelCatalog) SetPolicy(policy config.ModelPolicy) {
	c.mu.Lock()
	c.policy = policy
	c.mu.Unlock()
	for _, sink := range c.sinks {
		sink.SetModelPolicy(policy)
	}
}
