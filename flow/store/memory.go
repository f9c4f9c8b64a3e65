// Package store provides WorkflowStore implementations: an in-memory
// store for tests and single-process use, and SQLite/MySQL stores for
// durable persistence.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/smogili1/agentflow/flow"
)

// Memory is an in-memory WorkflowStore. Values are deep-copied on the way
// in and out so callers cannot alias stored state.
type Memory struct {
	mu         sync.RWMutex
	workflows  map[string]*flow.Workflow
	executions map[string]*flow.ExecutionSummary
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[string]*flow.Workflow),
		executions: make(map[string]*flow.ExecutionSummary),
	}
}

// GetWorkflow implements flow.WorkflowStore.
func (m *Memory) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, flow.ErrWorkflowNotFound
	}
	return wf.Clone()
}

// PutWorkflow implements flow.WorkflowStore.
func (m *Memory) PutWorkflow(ctx context.Context, wf *flow.Workflow) error {
	clone, err := wf.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = clone
	return nil
}

// UpdateWorkflow implements flow.WorkflowStore.
func (m *Memory) UpdateWorkflow(ctx context.Context, wf *flow.Workflow) error {
	clone, err := wf.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return flow.ErrWorkflowNotFound
	}
	m.workflows[wf.ID] = clone
	return nil
}

// DeleteWorkflow implements flow.WorkflowStore.
func (m *Memory) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

// ListWorkflows implements flow.WorkflowStore.
func (m *Memory) ListWorkflows(ctx context.Context) ([]*flow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*flow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		clone, err := wf.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveExecution implements flow.WorkflowStore.
func (m *Memory) SaveExecution(ctx context.Context, sum *flow.ExecutionSummary) error {
	copied, err := copySummary(sum)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[sum.ExecutionID] = copied
	return nil
}

// GetExecution implements flow.WorkflowStore.
func (m *Memory) GetExecution(ctx context.Context, executionID string) (*flow.ExecutionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.executions[executionID]
	if !ok {
		return nil, flow.ErrExecutionNotFound
	}
	return copySummary(sum)
}

// ListExecutions implements flow.WorkflowStore.
func (m *Memory) ListExecutions(ctx context.Context, workflowID string) ([]*flow.ExecutionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*flow.ExecutionSummary
	for _, sum := range m.executions {
		if sum.WorkflowID != workflowID {
			continue
		}
		copied, err := copySummary(sum)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
