package flow

import (
	"context"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

// ExecResult is what a node executor returns on success.
type ExecResult struct {
	// Output is the node's output value, recorded in the context and
	// carried on the node-complete event.
	Output any

	// Metadata is optional executor-specific detail (token usage, session
	// ids). It is persisted on the node's run record but not forwarded
	// downstream.
	Metadata map[string]any
}

// ExecEnv is the engine-provided environment handed to every executor
// invocation. It carries the streaming callbacks and the shared services an
// executor may need; executors must treat it as read-only.
type ExecEnv struct {
	// Stream re-emits an executor streaming event as a node-output event.
	Stream func(emit.StreamEvent)

	// Waiting emits a node-waiting event carrying the approval request.
	Waiting func(emit.ApprovalRequest)

	// Approvals is the process-wide approval rendezvous table.
	Approvals *ApprovalRegistry

	// Runners maps an agent kind ("claude", "codex") to its runner.
	Runners map[string]runner.Runner

	// Schemas is the per-node-type configuration schema registry.
	Schemas *SchemaRegistry

	// Store gives self-reflect executors access to workflow persistence.
	Store WorkflowStore

	// HistoryRoot is the base directory for evolution history journals.
	HistoryRoot string

	// Workflow is the executing workflow, read-only.
	Workflow *Workflow

	// RunCount is the node's run counter for this dispatch, starting at 1.
	RunCount int

	// Feedback carries rejection feedback staged for this run, empty when
	// the run was not triggered by a feedback loop.
	Feedback string
}

// NodeExecutor implements one node type's behavior.
type NodeExecutor interface {
	// Type returns the node type tag this executor serves.
	Type() NodeType

	// Validate checks the node's configuration before any dispatch. It is
	// called for every node during static validation; a non-nil error
	// blocks the run.
	Validate(node *Node) error

	// Execute runs the node. It must observe ctx at every blocking
	// boundary and return promptly once ctx is done.
	Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error)
}

// OutputHandler is implemented by executors that nominate a named output
// handle on completion (conditions, approvals). Edges whose source handle
// differs from the nominated handle are masked.
type OutputHandler interface {
	OutputHandle(res *ExecResult, node *Node) string
}
