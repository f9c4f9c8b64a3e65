// Package emit defines the execution event model and the per-execution
// event bus used to surface workflow progress to subscribers.
package emit

import "time"

// EventType tags the members of the execution event union.
//
// Every execution produces a stream of events terminated by exactly one of
// EventExecutionComplete, EventExecutionError, or EventValidationError.
type EventType string

const (
	// EventExecutionStart is emitted once, before any node event.
	EventExecutionStart EventType = "execution-start"

	// EventNodeStart is emitted when a node is dispatched to its executor.
	// It precedes every other event bearing the same node for the same run.
	EventNodeStart EventType = "node-start"

	// EventNodeOutput carries a streaming event produced by a node executor
	// (text deltas, tool activity, run-start markers).
	EventNodeOutput EventType = "node-output"

	// EventNodeComplete is emitted when a node executor returns successfully.
	EventNodeComplete EventType = "node-complete"

	// EventNodeError is emitted when a node executor fails.
	EventNodeError EventType = "node-error"

	// EventNodeWaiting is emitted when an approval executor suspends.
	// The event carries the ApprovalRequest shown to the human operator.
	EventNodeWaiting EventType = "node-waiting"

	// EventExecutionComplete terminates a successful execution.
	EventExecutionComplete EventType = "execution-complete"

	// EventExecutionError terminates a failed or interrupted execution.
	EventExecutionError EventType = "execution-error"

	// EventValidationError is emitted when static validation rejects the
	// workflow. No execution-start is ever emitted for such a run.
	EventValidationError EventType = "validation-error"
)

// StreamType tags the members of the per-executor streaming event union
// carried inside EventNodeOutput events.
type StreamType string

const (
	// StreamTextDelta carries an incremental text fragment from an agent.
	StreamTextDelta StreamType = "text-delta"

	// StreamToolUse reports an agent invoking a tool.
	StreamToolUse StreamType = "tool-use"

	// StreamToolResult reports a tool returning to the agent.
	StreamToolResult StreamType = "tool-result"

	// StreamThinking carries agent reasoning output.
	StreamThinking StreamType = "thinking"

	// StreamTodoList carries an agent's task-list update.
	StreamTodoList StreamType = "todo-list"

	// StreamComplete marks the end of an executor's stream.
	StreamComplete StreamType = "complete"

	// StreamError reports a recoverable executor-level problem.
	StreamError StreamType = "error"

	// StreamRunStart marks a rejection-driven re-entry of a node. The
	// engine emits it with the node's incremented run counter.
	StreamRunStart StreamType = "run-start"
)

// StreamEvent is one element of an executor's streaming output.
//
// Only the fields relevant to the Type are populated; the rest are omitted
// from the JSON encoding.
type StreamEvent struct {
	Type StreamType `json:"type"`

	// Text holds the fragment for text-delta and thinking events.
	Text string `json:"text,omitempty"`

	// Tool identifies the tool for tool-use and tool-result events.
	Tool string `json:"tool,omitempty"`

	// Data carries event-specific structured payload (tool input or
	// result, todo items, error details).
	Data any `json:"data,omitempty"`

	// RunCount is set on run-start events.
	RunCount int `json:"runCount,omitempty"`
}

// ApprovalRequest describes a pending human approval, carried by
// EventNodeWaiting events and displayed by subscribers.
type ApprovalRequest struct {
	NodeID         string         `json:"nodeId"`
	NodeName       string         `json:"nodeName"`
	PromptMessage  string         `json:"promptMessage"`
	FeedbackPrompt string         `json:"feedbackPrompt,omitempty"`
	DisplayData    map[string]any `json:"displayData"`

	// TimeoutAt is the wall-clock deadline after which the configured
	// timeout action fires. Zero when the approval has no timeout.
	TimeoutAt time.Time `json:"timeoutAt,omitzero"`
}

// ValidationIssue is one element of a validation-error event payload.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// Event is a single message on an execution's event stream.
//
// Events form a tagged union: Type selects which optional fields are
// meaningful. Every event carries the execution id and a timestamp assigned
// by the bus on emission; Seq is a per-execution monotonic counter that
// breaks timestamp ties, so (Timestamp, Seq) totally orders one execution's
// stream.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId,omitempty"`

	NodeID   string `json:"nodeId,omitempty"`
	NodeName string `json:"nodeName,omitempty"`

	// RunCount is the node's run counter at dispatch, set on node-start.
	// The first run of a node is 1.
	RunCount int `json:"runCount,omitempty"`

	// Stream is set on node-output events.
	Stream *StreamEvent `json:"event,omitempty"`

	// Result is set on node-complete (the node's output value) and on
	// execution-complete (the final result).
	Result any `json:"result,omitempty"`

	// Err is set on node-error, execution-error and validation-error.
	Err string `json:"error,omitempty"`

	// Issues is set on validation-error.
	Issues []ValidationIssue `json:"issues,omitempty"`

	// Approval is set on node-waiting.
	Approval *ApprovalRequest `json:"approval,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}
