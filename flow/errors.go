package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is the cooperative cancellation cause produced by
// Execution.Interrupt. It never surfaces as a per-node error; the engine
// reports it once, on the terminal execution-error event, after all
// executors quiesce.
var ErrCancelled = errors.New("execution interrupted")

// ErrApprovalCancelled is the rejection cause delivered to an approval
// executor when its pending approval is cancelled individually.
var ErrApprovalCancelled = errors.New("approval cancelled")

// ErrWorkflowNotFound is returned by stores and the evolution applier when
// the referenced workflow does not exist.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrExecutionNotFound is returned when an execution id is unknown to the
// engine or the store.
var ErrExecutionNotFound = errors.New("execution not found")

// Validation issue codes produced by static workflow validation.
const (
	CodeCycle             = "CYCLE"
	CodeNoInput           = "NO_INPUT_NODE"
	CodeMultipleInputs    = "MULTIPLE_INPUT_NODES"
	CodeNoOutput          = "NO_OUTPUT_NODE"
	CodeOutputUnreachable = "OUTPUT_NOT_REACHABLE"
	CodeOrphanedNode      = "ORPHANED_NODE"
	CodeDuplicateName     = "DUPLICATE_NAME"
	CodeBadEdge           = "EDGE_ENDPOINT_MISSING"
	CodeSelfLoop          = "EDGE_SELF_LOOP"
	CodeUnknownType       = "UNKNOWN_NODE_TYPE"
	CodeNodeConfig        = "NODE_CONFIG"
)

// ValidationIssue is one static-validation finding.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// ValidationError reports every static-validation finding at once. It is
// surfaced before execution starts; a workflow that fails validation never
// emits execution-start.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Code + ": " + issue.Message
	}
	return "workflow validation failed: " + strings.Join(msgs, "; ")
}

// NodeConfigError reports an invalid node configuration, raised by an
// executor's Validate before any node is dispatched.
type NodeConfigError struct {
	NodeID  string
	Message string
}

func (e *NodeConfigError) Error() string {
	return fmt.Sprintf("node %s: invalid configuration: %s", e.NodeID, e.Message)
}

// NodeError wraps an executor failure with the failing node's identity.
// It becomes a node-error event and, unless absorbed by a feedback loop,
// aborts the run.
type NodeError struct {
	NodeID   string
	NodeName string
	Err      error
}

func (e *NodeError) Error() string {
	name := e.NodeName
	if name == "" {
		name = e.NodeID
	}
	return fmt.Sprintf("node %s: %v", name, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// AgentError reports a failure of the external agent runner.
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string { return "agent runner failed: " + e.Err.Error() }
func (e *AgentError) Unwrap() error { return e.Err }

// ScriptError reports a scripted-transform failure (compile or runtime).
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string { return "script failed: " + e.Err.Error() }
func (e *ScriptError) Unwrap() error { return e.Err }

// TimeoutError reports an executor exceeding its configured deadline.
type TimeoutError struct {
	What string
}

func (e *TimeoutError) Error() string { return e.What + " timed out" }

// ApprovalTimeoutError reports an approval whose timeout fired with
// timeoutAction "fail".
type ApprovalTimeoutError struct {
	NodeID string
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval %s timed out", e.NodeID)
}

// ExecutionError is the terminal failure of a run. Cause distinguishes a
// node failure from cancellation.
type ExecutionError struct {
	ExecutionID string
	Cause       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed: %v", e.ExecutionID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// EvolutionValidationError reports every rejected mutation of a proposed
// evolution at once; it blocks application.
type EvolutionValidationError struct {
	Errors []string
}

func (e *EvolutionValidationError) Error() string {
	return "evolution validation failed: " + strings.Join(e.Errors, "; ")
}

// EdgeConflictError reports an add-edge mutation duplicating an existing
// (source, target, sourceHandle) triple.
type EdgeConflictError struct {
	Source       string
	Target       string
	SourceHandle string
}

func (e *EdgeConflictError) Error() string {
	return fmt.Sprintf("edge %s -> %s (handle %q) already exists", e.Source, e.Target, e.SourceHandle)
}

// CycleIntroducedError reports a mutation batch whose projected graph
// contains a cycle.
type CycleIntroducedError struct {
	NodeID string
}

func (e *CycleIntroducedError) Error() string {
	return "mutation introduces a cycle through node " + e.NodeID
}
