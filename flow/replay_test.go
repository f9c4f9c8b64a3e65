package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/smogili1/agentflow/flow/emit"
)

// branchedWorkflow routes "go" inputs through a two-stage script chain and
// everything else to an alternate output.
func branchedWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-replay",
		Name: "replayable",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("route", NodeCondition, "Route", map[string]any{
				"rules": []any{map[string]any{
					"inputReference": "{{Start}}",
					"operator":       "equals",
					"compareValue":   "go",
				}},
			}),
			mkNode("work", NodeJavaScript, "Work", map[string]any{"code": `input + "-w"`}),
			mkNode("fin", NodeJavaScript, "Finish", map[string]any{"code": `Work + "!"`}),
			mkNode("out", NodeOutput, "Done", nil),
			mkNode("alt", NodeOutput, "Alternate", nil),
		},
		Edges: []Edge{
			mkEdge("in", "route", ""),
			mkEdge("route", "work", "true"),
			mkEdge("route", "alt", "false"),
			mkEdge("work", "fin", ""),
			mkEdge("fin", "out", ""),
		},
	}
}

// sourceSummary builds the summary an execution of wf would persist, with
// per-node statuses and results supplied by the caller.
func sourceSummary(wf *Workflow, runs map[string]NodeRun) *ExecutionSummary {
	sum := &ExecutionSummary{
		ExecutionID: "exec-src",
		WorkflowID:  wf.ID,
		Status:      ExecutionComplete,
		Input:       "go",
		Nodes:       make(map[string]NodeRun, len(runs)),
	}
	for id, run := range runs {
		if n := wf.NodeByID(id); n != nil && run.Config == nil {
			run.Config = n.ConfigBytes()
		}
		sum.Nodes[id] = run
	}
	return sum
}

func completedRuns(wf *Workflow) map[string]NodeRun {
	return map[string]NodeRun{
		"in":    {Status: StatusComplete, Result: "go"},
		"route": {Status: StatusComplete, Result: map[string]any{"condition": true}},
		"work":  {Status: StatusComplete, Result: "go-w"},
		"fin":   {Status: StatusComplete, Result: "go-w!"},
		"out":   {Status: StatusComplete, Result: "go-w!"},
		"alt":   {Status: StatusSkipped},
	}
}

func TestPlanReplay(t *testing.T) {
	sorted := func(ids []string) map[string]bool {
		out := make(map[string]bool, len(ids))
		for _, id := range ids {
			out[id] = true
		}
		return out
	}

	t.Run("partition", func(t *testing.T) {
		wf := branchedWorkflow()
		plan, err := PlanReplay(wf, sourceSummary(wf, completedRuns(wf)), "fin")
		if err != nil {
			t.Fatalf("PlanReplay: %v", err)
		}
		if got := sorted(plan.Reused); !got["in"] || !got["route"] || !got["work"] || len(got) != 3 {
			t.Errorf("reused = %v", plan.Reused)
		}
		if got := sorted(plan.ReExecuted); !got["fin"] || !got["out"] || len(got) != 2 {
			t.Errorf("re-executed = %v", plan.ReExecuted)
		}
		if len(plan.Skipped) != 1 || plan.Skipped[0] != "alt" {
			t.Errorf("skipped = %v", plan.Skipped)
		}
		if len(plan.Warnings) != 0 {
			t.Errorf("warnings = %v", plan.Warnings)
		}
	})

	t.Run("config drift demotes reuse", func(t *testing.T) {
		wf := branchedWorkflow()
		source := sourceSummary(wf, completedRuns(wf))
		wf.NodeByID("work").Config["code"] = `input + "-W"`

		plan, err := PlanReplay(wf, source, "fin")
		if err != nil {
			t.Fatalf("PlanReplay: %v", err)
		}
		if sorted(plan.Reused)["work"] {
			t.Error("drifted node still reused")
		}
		if !sorted(plan.ReExecuted)["work"] {
			t.Error("drifted node not re-executed")
		}
		if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "configuration changed") {
			t.Errorf("warnings = %v", plan.Warnings)
		}
	})

	t.Run("added node re-executes with warning", func(t *testing.T) {
		wf := branchedWorkflow()
		source := sourceSummary(wf, completedRuns(wf))
		wf.Nodes = append(wf.Nodes, mkNode("audit", NodeJavaScript, "Audit", map[string]any{"code": "input"}))
		wf.Edges = append(wf.Edges, mkEdge("in", "audit", ""))

		plan, err := PlanReplay(wf, source, "fin")
		if err != nil {
			t.Fatalf("PlanReplay: %v", err)
		}
		if len(plan.Added) != 1 || plan.Added[0] != "audit" {
			t.Errorf("added = %v", plan.Added)
		}
		if !sorted(plan.ReExecuted)["audit"] {
			t.Error("added node not scheduled to run")
		}
		if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "added after the source execution") {
			t.Errorf("warnings = %v", plan.Warnings)
		}
	})

	t.Run("unknown from node", func(t *testing.T) {
		wf := branchedWorkflow()
		if _, err := PlanReplay(wf, sourceSummary(wf, completedRuns(wf)), "ghost"); err == nil {
			t.Error("unknown node accepted")
		}
	})

	t.Run("from node absent from source", func(t *testing.T) {
		wf := branchedWorkflow()
		runs := completedRuns(wf)
		delete(runs, "fin")
		if _, err := PlanReplay(wf, sourceSummary(wf, runs), "fin"); err == nil {
			t.Error("node missing from the source execution accepted")
		}
	})

	t.Run("interrupted before the from node", func(t *testing.T) {
		wf := branchedWorkflow()
		runs := completedRuns(wf)
		runs["fin"] = NodeRun{Status: StatusRunning}
		source := sourceSummary(wf, runs)
		source.Status = ExecutionInterrupted
		if _, err := PlanReplay(wf, source, "fin"); err == nil {
			t.Error("interrupted source accepted")
		}
		// A node that did complete before the interrupt replays fine.
		if _, err := PlanReplay(wf, source, "work"); err != nil {
			t.Errorf("PlanReplay from completed node: %v", err)
		}
	})
}

func TestEngine_Replay(t *testing.T) {
	st := newTestStore()
	engine, err := NewEngine(WithStore(st))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	wf := branchedWorkflow()
	exec, err := engine.Start(context.Background(), wf, "go")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result, err := exec.Wait(context.Background()); err != nil || result != "go-w!" {
		t.Fatalf("source run = %#v, %v", result, err)
	}
	source, err := st.GetExecution(context.Background(), exec.ID())
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}

	// Sharpen the final stage and replay only from there.
	wf.NodeByID("fin").Config["code"] = `Work + "?"`

	var mu sync.Mutex
	started := make(map[string]int)
	track := sinkFunc(func(ev emit.Event) {
		if ev.Type == emit.EventNodeStart {
			mu.Lock()
			started[ev.NodeID]++
			mu.Unlock()
		}
	})

	replay, plan, err := engine.Replay(context.Background(), wf, source, "fin", nil, "", track)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	result, err := replay.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != "go-w?" {
		t.Errorf("replay result = %#v, want go-w?", result)
	}

	if len(plan.Reused) != 3 {
		t.Errorf("reused = %v", plan.Reused)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"in", "route", "work", "alt"} {
		if started[id] != 0 {
			t.Errorf("node %s started %d times during replay", id, started[id])
		}
	}
	for _, id := range []string{"fin", "out"} {
		if started[id] != 1 {
			t.Errorf("node %s started %d times, want 1", id, started[id])
		}
	}

	if stt := replay.NodeState("alt"); stt.Status != StatusSkipped {
		t.Errorf("alt status = %s, want skipped", stt.Status)
	}
	if stt := replay.NodeState("work"); stt.Status != StatusComplete {
		t.Errorf("work status = %s, want complete", stt.Status)
	}

	t.Run("input falls back to the source execution", func(t *testing.T) {
		sum, err := st.GetExecution(context.Background(), replay.ID())
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if sum.Input != "go" {
			t.Errorf("replay input = %#v, want the source input", sum.Input)
		}
	})
}
