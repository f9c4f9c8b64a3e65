package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NodeStatus is the lifecycle state of one node within one execution.
type NodeStatus string

const (
	StatusPending  NodeStatus = "pending"
	StatusRunning  NodeStatus = "running"
	StatusComplete NodeStatus = "complete"
	StatusError    NodeStatus = "error"
	StatusSkipped  NodeStatus = "skipped"
	StatusWaiting  NodeStatus = "waiting"
)

// Terminal reports whether the status is a settled end state for a run.
func (s NodeStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusSkipped
}

// NodeRunState is the engine's record of one node within one execution.
type NodeRunState struct {
	Status      NodeStatus `json:"status"`
	StartedAt   time.Time  `json:"startedAt,omitzero"`
	CompletedAt time.Time  `json:"completedAt,omitzero"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// ExecutionContext is the per-run mutable state shared between the engine
// and node executors: node outputs, variables, node states, run counters,
// and the reference resolver.
//
// The engine owns the context for the duration of a run. Executors read
// concurrently and write through the mutating methods; all access is
// guarded by an internal mutex.
type ExecutionContext struct {
	executionID      string
	workflowID       string
	workingDirectory string
	input            any

	nodeNameToID map[string]string
	nodeIDToName map[string]string
	graph        *graphIndex

	mu          sync.RWMutex
	nodeOutputs map[string]any
	variables   map[string]any
	nodeStates  map[string]*NodeRunState
	runCounts   map[string]int
	feedback    map[string]string
	staged      map[string]any
}

// NewExecutionContext builds a context for one run of the workflow.
// workingDirectory overrides the workflow's directory when non-empty.
func NewExecutionContext(executionID string, wf *Workflow, input any, workingDirectory string) *ExecutionContext {
	if workingDirectory == "" {
		workingDirectory = wf.WorkingDirectory
	}

	ec := &ExecutionContext{
		executionID:      executionID,
		workflowID:       wf.ID,
		workingDirectory: workingDirectory,
		input:            input,
		nodeNameToID:     make(map[string]string, len(wf.Nodes)),
		nodeIDToName:     make(map[string]string, len(wf.Nodes)),
		graph:            buildGraphIndex(wf.Nodes, forwardEdges(wf.Nodes, wf.Edges)),
		nodeOutputs:      make(map[string]any),
		variables:        make(map[string]any),
		nodeStates:       make(map[string]*NodeRunState, len(wf.Nodes)),
		runCounts:        make(map[string]int),
		feedback:         make(map[string]string),
		staged:           make(map[string]any),
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		ec.nodeNameToID[n.Name] = n.ID
		ec.nodeIDToName[n.ID] = n.Name
		ec.nodeStates[n.ID] = &NodeRunState{Status: StatusPending}
	}
	return ec
}

// ExecutionID returns the run's unique id.
func (ec *ExecutionContext) ExecutionID() string { return ec.executionID }

// WorkflowID returns the executed workflow's id.
func (ec *ExecutionContext) WorkflowID() string { return ec.workflowID }

// WorkingDirectory returns the resolved directory for tool use.
func (ec *ExecutionContext) WorkingDirectory() string { return ec.workingDirectory }

// Input returns the workflow input handed to execute.
func (ec *ExecutionContext) Input() any { return ec.input }

// NodeID resolves a node name to its id; ok is false when unknown.
func (ec *ExecutionContext) NodeID(name string) (string, bool) {
	id, ok := ec.nodeNameToID[name]
	return id, ok
}

// NodeName resolves a node id to its name; ok is false when unknown.
func (ec *ExecutionContext) NodeName(id string) (string, bool) {
	name, ok := ec.nodeIDToName[id]
	return name, ok
}

// PredecessorsOf returns the direct predecessors of the node.
func (ec *ExecutionContext) PredecessorsOf(nodeID string) []string {
	return append([]string(nil), ec.graph.predecessors[nodeID]...)
}

// SuccessorsOf returns the direct successors of the node.
func (ec *ExecutionContext) SuccessorsOf(nodeID string) []string {
	return append([]string(nil), ec.graph.successors[nodeID]...)
}

// AncestorsOf returns the transitive ancestor set of the node.
func (ec *ExecutionContext) AncestorsOf(nodeID string) map[string]bool {
	out := make(map[string]bool, len(ec.graph.ancestors[nodeID]))
	for id := range ec.graph.ancestors[nodeID] {
		out[id] = true
	}
	return out
}

// IsAncestor reports whether candidate is an ancestor of nodeID.
func (ec *ExecutionContext) IsAncestor(candidate, nodeID string) bool {
	return ec.graph.ancestors[nodeID][candidate]
}

// SetOutput records the node's last successful output value.
func (ec *ExecutionContext) SetOutput(nodeID string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeOutputs[nodeID] = value
}

// Output returns the node's last successful output.
func (ec *ExecutionContext) Output(nodeID string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.nodeOutputs[nodeID]
	return v, ok
}

// Outputs returns a copy of the node output map.
func (ec *ExecutionContext) Outputs() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.nodeOutputs))
	for k, v := range ec.nodeOutputs {
		out[k] = v
	}
	return out
}

// SetVariable stores a dotted-key variable for interpolation and
// downstream reference.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[key] = value
}

// Variable returns a variable by its dotted key.
func (ec *ExecutionContext) Variable(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[key]
	return v, ok
}

// NodeState returns a copy of the node's run state. Unknown ids report a
// pending state.
func (ec *ExecutionContext) NodeState(nodeID string) NodeRunState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if st, ok := ec.nodeStates[nodeID]; ok {
		return *st
	}
	return NodeRunState{Status: StatusPending}
}

// NodeStates returns a copy of every node's run state.
func (ec *ExecutionContext) NodeStates() map[string]NodeRunState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]NodeRunState, len(ec.nodeStates))
	for id, st := range ec.nodeStates {
		out[id] = *st
	}
	return out
}

// RunCount returns how many times the node has been dispatched in this
// execution. The first dispatch reports 1.
func (ec *ExecutionContext) RunCount(nodeID string) int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.runCounts[nodeID]
}

func (ec *ExecutionContext) bumpRunCount(nodeID string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.runCounts[nodeID]++
	return ec.runCounts[nodeID]
}

func (ec *ExecutionContext) setStatus(nodeID string, status NodeStatus) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	st := ec.nodeStates[nodeID]
	if st == nil {
		st = &NodeRunState{}
		ec.nodeStates[nodeID] = st
	}
	st.Status = status
	switch status {
	case StatusRunning:
		st.StartedAt = time.Now()
		st.CompletedAt = time.Time{}
		st.Error = ""
	case StatusComplete, StatusError, StatusSkipped:
		st.CompletedAt = time.Now()
	case StatusPending:
		// Rejection-loop reset: clear the previous attempt's record.
		st.StartedAt = time.Time{}
		st.CompletedAt = time.Time{}
		st.Error = ""
		st.Result = nil
	}
}

func (ec *ExecutionContext) setResult(nodeID string, result any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if st := ec.nodeStates[nodeID]; st != nil {
		st.Result = result
	}
}

func (ec *ExecutionContext) setError(nodeID string, err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if st := ec.nodeStates[nodeID]; st != nil {
		st.Error = err.Error()
	}
}

// SetFeedback stages rejection feedback for a node's next run.
func (ec *ExecutionContext) SetFeedback(nodeID, feedback string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.feedback[nodeID] = feedback
}

// TakeFeedback consumes staged rejection feedback for the node.
func (ec *ExecutionContext) TakeFeedback(nodeID string) (string, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	fb, ok := ec.feedback[nodeID]
	if ok {
		delete(ec.feedback, nodeID)
	}
	return fb, ok
}

// stageValue hands a precomputed input to a node's executor; the engine
// uses it to pass merge selections.
func (ec *ExecutionContext) stageValue(nodeID string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.staged[nodeID] = value
}

func (ec *ExecutionContext) stagedValue(nodeID string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.staged[nodeID]
	return v, ok
}

// seedOutput marks a node complete with a prior output without running it.
// The replay planner uses it to install reused results.
func (ec *ExecutionContext) seedOutput(nodeID string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeOutputs[nodeID] = value
	st := ec.nodeStates[nodeID]
	if st == nil {
		st = &NodeRunState{}
		ec.nodeStates[nodeID] = st
	}
	st.Status = StatusComplete
	st.Result = value
}

var referencePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolate expands {{NodeName}} and {{NodeName.dotted.path}}
// placeholders against node outputs and variables. Unresolved references
// are left literally in the string.
func (ec *ExecutionContext) Interpolate(text string) string {
	return referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		ref := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := ec.ResolveReference(ref)
		if !ok {
			return match
		}
		return stringify(value)
	})
}

// ResolveReference resolves a dotted reference. The first segment names a
// node (by name, falling back to id) whose output anchors the walk; when
// no node matches, the full reference is looked up in the variables map.
func (ec *ExecutionContext) ResolveReference(ref string) (any, bool) {
	segments := strings.Split(ref, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	if id, ok := ec.nodeNameToID[segments[0]]; ok {
		if base, ok := ec.Output(id); ok {
			return getNestedValue(base, segments[1:])
		}
		return nil, false
	}
	if _, ok := ec.nodeIDToName[segments[0]]; ok {
		if base, ok := ec.Output(segments[0]); ok {
			return getNestedValue(base, segments[1:])
		}
		return nil, false
	}

	return ec.Variable(ref)
}

// getNestedValue walks a dotted path through maps and arrays. An integer
// segment indexes only when the containing value is an array; any missing
// step yields (nil, false) rather than an error.
func getNestedValue(value any, segments []string) (any, bool) {
	current := value
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for interpolation: strings pass
// through, everything else is JSON-encoded.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
