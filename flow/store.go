package flow

import (
	"context"
	"encoding/json"
	"time"
)

// ExecutionStatus is the terminal (or in-flight) status of one execution.
type ExecutionStatus string

const (
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionComplete    ExecutionStatus = "complete"
	ExecutionFailed      ExecutionStatus = "error"
	ExecutionInterrupted ExecutionStatus = "interrupted"
)

// NodeRun is the persisted record of one node within an execution summary.
// Config captures the node's configuration at run time so replay planning
// can detect configuration drift by byte comparison.
type NodeRun struct {
	Status      NodeStatus      `json:"status"`
	StartedAt   time.Time       `json:"startedAt,omitzero"`
	CompletedAt time.Time       `json:"completedAt,omitzero"`
	Error       string          `json:"error,omitempty"`
	Result      any             `json:"result,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// ExecutionSummary is the persisted record of one workflow execution. It is
// written when the execution starts and updated on completion; the replay
// planner consumes it as the source of reusable outputs.
type ExecutionSummary struct {
	ExecutionID      string             `json:"executionId"`
	WorkflowID       string             `json:"workflowId"`
	WorkflowName     string             `json:"workflowName"`
	Input            any                `json:"input,omitempty"`
	Status           ExecutionStatus    `json:"status"`
	StartedAt        time.Time          `json:"startedAt"`
	CompletedAt      time.Time          `json:"completedAt,omitzero"`
	WorkingDirectory string             `json:"workingDirectory,omitempty"`
	OutputDirectory  string             `json:"outputDirectory,omitempty"`
	FinalResult      any                `json:"finalResult,omitempty"`
	Error            string             `json:"error,omitempty"`
	Nodes            map[string]NodeRun `json:"nodes"`
}

// WorkflowStore persists workflow definitions and execution summaries.
// Implementations live in flow/store; writes are serialized by the store.
type WorkflowStore interface {
	// GetWorkflow returns the stored workflow or ErrWorkflowNotFound.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// PutWorkflow inserts or replaces a workflow definition.
	PutWorkflow(ctx context.Context, wf *Workflow) error

	// UpdateWorkflow replaces an existing workflow; it fails with
	// ErrWorkflowNotFound when the id is absent. The evolution applier
	// relies on this distinction.
	UpdateWorkflow(ctx context.Context, wf *Workflow) error

	// DeleteWorkflow removes a workflow definition; absent ids are a no-op.
	DeleteWorkflow(ctx context.Context, id string) error

	// ListWorkflows returns every stored workflow.
	ListWorkflows(ctx context.Context) ([]*Workflow, error)

	// SaveExecution inserts or replaces an execution summary.
	SaveExecution(ctx context.Context, sum *ExecutionSummary) error

	// GetExecution returns a summary or ErrExecutionNotFound.
	GetExecution(ctx context.Context, executionID string) (*ExecutionSummary, error)

	// ListExecutions returns the summaries for one workflow, newest first.
	ListExecutions(ctx context.Context, workflowID string) ([]*ExecutionSummary, error)
}

// summarize snapshots the context's node states into a persistable summary.
func summarize(wf *Workflow, ec *ExecutionContext, status ExecutionStatus, startedAt time.Time, finalResult any, execErr error) *ExecutionSummary {
	sum := &ExecutionSummary{
		ExecutionID:      ec.ExecutionID(),
		WorkflowID:       wf.ID,
		WorkflowName:     wf.Name,
		Input:            ec.Input(),
		Status:           status,
		StartedAt:        startedAt,
		WorkingDirectory: ec.WorkingDirectory(),
		FinalResult:      finalResult,
		Nodes:            make(map[string]NodeRun, len(wf.Nodes)),
	}
	if status != ExecutionRunning {
		sum.CompletedAt = time.Now()
	}
	if execErr != nil {
		sum.Error = execErr.Error()
	}
	for id, st := range ec.NodeStates() {
		run := NodeRun{
			Status:      st.Status,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
			Error:       st.Error,
			Result:      st.Result,
		}
		if n := wf.NodeByID(id); n != nil {
			run.Config = n.ConfigBytes()
		}
		sum.Nodes[id] = run
	}
	return sum
}
