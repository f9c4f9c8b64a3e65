package flow

import (
	"context"
	"sync"
)

// testStore is a minimal in-memory WorkflowStore for engine and evolution
// tests. The production implementations live in flow/store, which internal
// tests cannot import without a cycle.
type testStore struct {
	mu         sync.Mutex
	workflows  map[string]*Workflow
	executions map[string]*ExecutionSummary
}

func newTestStore() *testStore {
	return &testStore{
		workflows:  make(map[string]*Workflow),
		executions: make(map[string]*ExecutionSummary),
	}
}

func (s *testStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf.Clone()
}

func (s *testStore) PutWorkflow(ctx context.Context, wf *Workflow) error {
	clone, err := wf.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = clone
	return nil
}

func (s *testStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	clone, err := wf.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return ErrWorkflowNotFound
	}
	s.workflows[wf.ID] = clone
	return nil
}

func (s *testStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

func (s *testStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		clone, err := wf.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *testStore) SaveExecution(ctx context.Context, sum *ExecutionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[sum.ExecutionID] = sum
	return nil
}

func (s *testStore) GetExecution(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return sum, nil
}

func (s *testStore) ListExecutions(ctx context.Context, workflowID string) ([]*ExecutionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ExecutionSummary
	for _, sum := range s.executions {
		if sum.WorkflowID == workflowID {
			out = append(out, sum)
		}
	}
	return out, nil
}
