package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/smogili1/agentflow/flow/emit"
)

// ReplayPlan partitions the current workflow's nodes for a partial
// re-execution: reused nodes are seeded from the source execution and
// never dispatched, the rest run again.
type ReplayPlan struct {
	FromNodeID string   `json:"fromNodeId"`
	Reused     []string `json:"reused"`
	ReExecuted []string `json:"reExecuted"`
	Added      []string `json:"added"`

	// Skipped nodes were masked away in the source execution and are not
	// downstream of fromNodeID; they stay skipped in the replay.
	Skipped  []string `json:"skipped,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	seeds map[string]any
}

// PlanReplay computes the reuse partition for replaying the workflow from
// fromNodeID, given the source execution's summary.
//
// A node is reused when it completed in the source execution, is not a
// transitive descendant of fromNodeID in the current workflow, and its
// configuration is byte-equal to the source's. A changed configuration
// demotes the node to re-execution with a warning; nodes added since the
// source execution always re-execute, also with a warning.
func PlanReplay(wf *Workflow, source *ExecutionSummary, fromNodeID string) (*ReplayPlan, error) {
	from := wf.NodeByID(fromNodeID)
	if from == nil {
		return nil, fmt.Errorf("replay: node %q not found in workflow", fromNodeID)
	}
	sourceRun, inSource := source.Nodes[fromNodeID]
	if !inSource {
		return nil, fmt.Errorf("replay: node %q was not part of execution %s", fromNodeID, source.ExecutionID)
	}
	if source.Status == ExecutionInterrupted && sourceRun.Status != StatusComplete {
		return nil, fmt.Errorf("replay: execution %s was interrupted before node %q completed", source.ExecutionID, fromNodeID)
	}
	if len(wf.NodesOfType(NodeInput)) == 0 || len(wf.NodesOfType(NodeOutput)) == 0 {
		return nil, fmt.Errorf("replay: workflow no longer has its input/output terminals")
	}

	idx := buildGraphIndex(wf.Nodes, forwardEdges(wf.Nodes, wf.Edges))
	rerun := map[string]bool{fromNodeID: true}
	for id := range idx.descendants[fromNodeID] {
		rerun[id] = true
	}

	plan := &ReplayPlan{FromNodeID: fromNodeID, seeds: make(map[string]any)}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if rerun[n.ID] {
			plan.ReExecuted = append(plan.ReExecuted, n.ID)
			continue
		}
		run, ok := source.Nodes[n.ID]
		if !ok {
			plan.Added = append(plan.Added, n.ID)
			plan.ReExecuted = append(plan.ReExecuted, n.ID)
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("node %q was added after the source execution; it will run", n.Name))
			continue
		}
		if run.Status == StatusSkipped {
			plan.Skipped = append(plan.Skipped, n.ID)
			continue
		}
		if run.Status != StatusComplete {
			plan.ReExecuted = append(plan.ReExecuted, n.ID)
			continue
		}
		if len(run.Config) > 0 && string(run.Config) != string(n.ConfigBytes()) {
			plan.ReExecuted = append(plan.ReExecuted, n.ID)
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("node %q configuration changed since the source execution; its output is not reused", n.Name))
			continue
		}
		plan.Reused = append(plan.Reused, n.ID)
		plan.seeds[n.ID] = run.Result
	}

	return plan, nil
}

// Replay starts a partial execution of the workflow from fromNodeID,
// reusing the source execution's outputs for every node the plan marks
// reused. Reused nodes never emit node-start.
//
// input overrides the source execution's input when non-nil;
// workingDirectory resolves explicit > source > workflow.
func (e *Engine) Replay(ctx context.Context, wf *Workflow, source *ExecutionSummary, fromNodeID string, input any, workingDirectory string, sinks ...emit.Sink) (*Execution, *ReplayPlan, error) {
	plan, err := PlanReplay(wf, source, fromNodeID)
	if err != nil {
		return nil, nil, err
	}

	if input == nil {
		input = source.Input
	}
	if workingDirectory == "" {
		workingDirectory = source.WorkingDirectory
	}

	ec := NewExecutionContext(uuid.NewString(), wf, input, workingDirectory)
	for id, value := range plan.seeds {
		seeded, err := deepCopyValue(value)
		if err != nil {
			return nil, nil, fmt.Errorf("replay: copy output of node %q: %w", id, err)
		}
		ec.seedOutput(id, seeded)
	}
	for _, id := range plan.Skipped {
		ec.setStatus(id, StatusSkipped)
	}

	exec, err := e.start(ctx, wf, ec, sinks)
	if err != nil {
		return nil, nil, err
	}
	return exec, plan, nil
}

// deepCopyValue detaches a seeded output from the source summary so the
// new execution cannot alias-mutate it.
func deepCopyValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
