package flow

import (
	"fmt"
	"sync"

	"github.com/smogili1/agentflow/flow/runner"
)

// Registry maps node type tags to executor implementations. A registry is
// safe for concurrent use; executors are registered at construction time
// and looked up on every dispatch.
type Registry struct {
	mu        sync.RWMutex
	executors map[NodeType]NodeExecutor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[NodeType]NodeExecutor)}
}

// Register adds an executor, replacing any previous executor for the same
// type.
func (r *Registry) Register(ex NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[ex.Type()] = ex
}

// Lookup returns the executor for a node type.
func (r *Registry) Lookup(t NodeType) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", t)
	}
	return ex, nil
}

// Types returns the registered type tags.
func (r *Registry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns a registry with every built-in executor
// registered. Agent executors resolve their runner from the engine's
// runner map at execute time, so the registry itself needs no credentials.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&inputExecutor{})
	r.Register(&outputExecutor{})
	r.Register(&mergeExecutor{})
	r.Register(&conditionExecutor{})
	r.Register(&scriptExecutor{})
	r.Register(&agentExecutor{nodeType: NodeClaudeAgent, runnerKey: runner.KindClaude})
	r.Register(&agentExecutor{nodeType: NodeCodexAgent, runnerKey: runner.KindCodex})
	r.Register(&approvalExecutor{})
	r.Register(&reflectExecutor{})
	return r
}
