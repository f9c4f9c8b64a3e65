package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

func mkNode(id string, t NodeType, name string, config map[string]any) Node {
	return Node{ID: id, Type: t, Name: name, Config: config}
}

func mkEdge(source, target, handle string) Edge {
	return Edge{ID: source + "->" + target + "#" + handle, Source: source, Target: target, SourceHandle: handle}
}

func textResponse(text string) runner.Response {
	return runner.Response{
		Chunks: []runner.Chunk{{Type: runner.ChunkTextDelta, Text: text}},
		Result: runner.Result{Text: text, SessionID: "sess-1", Turns: 1},
	}
}

// approvalResponder is a sink that answers node-waiting events through the
// engine's approval registry. decide is called with the approval request
// and the 1-based invocation count.
type approvalResponder struct {
	engine *Engine
	decide func(req emit.ApprovalRequest, call int) ApprovalResponse

	mu    sync.Mutex
	calls int
	reqs  []emit.ApprovalRequest
}

func (a *approvalResponder) Handle(ev emit.Event) {
	if ev.Type != emit.EventNodeWaiting || ev.Approval == nil {
		return
	}
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.reqs = append(a.reqs, *ev.Approval)
	a.mu.Unlock()

	resp := a.decide(*ev.Approval, call)
	a.engine.SubmitApproval(ev.ExecutionID, ev.NodeID, resp)
}

func (a *approvalResponder) requests() []emit.ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]emit.ApprovalRequest, len(a.reqs))
	copy(out, a.reqs)
	return out
}

// approvalWorkflow is the canonical linear review pipeline: input feeds an
// agent whose draft a human approves or rejects.
func approvalWorkflow(agentConfig map[string]any) *Workflow {
	if agentConfig == nil {
		agentConfig = map[string]any{"userQuery": "Summarize: {{Start}}"}
	}
	return &Workflow{
		ID:   "wf-review",
		Name: "review pipeline",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("agent", NodeClaudeAgent, "Draft", agentConfig),
			mkNode("gate", NodeApproval, "Review", map[string]any{
				"promptMessage":   "Approve the draft?",
				"inputSelections": []any{map[string]any{"nodeName": "Draft"}},
			}),
			mkNode("out-ok", NodeOutput, "Done", nil),
			mkNode("out-no", NodeOutput, "Rejected", nil),
		},
		Edges: []Edge{
			mkEdge("in", "agent", ""),
			mkEdge("agent", "gate", ""),
			mkEdge("gate", "out-ok", "approved"),
			mkEdge("gate", "out-no", "rejected"),
		},
	}
}

func TestEngine_LinearApproval(t *testing.T) {
	mock := &runner.Mock{Responses: []runner.Response{textResponse("draft-1")}}
	engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	responder := &approvalResponder{
		engine: engine,
		decide: func(req emit.ApprovalRequest, call int) ApprovalResponse {
			return ApprovalResponse{Approved: true}
		},
	}
	rec := emit.NewRecorder()

	exec, err := engine.Start(context.Background(), approvalWorkflow(nil), "hello", rec, responder)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := exec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("final result is %T, want map", result)
	}
	if approved, _ := out["approved"].(bool); !approved {
		t.Errorf("final result approved = %v, want true", out["approved"])
	}

	t.Run("agent prompt interpolated", func(t *testing.T) {
		calls := mock.Calls()
		if len(calls) != 1 {
			t.Fatalf("agent runner called %d times, want 1", len(calls))
		}
		if calls[0].Prompt != "Summarize: hello" {
			t.Errorf("agent prompt = %q", calls[0].Prompt)
		}
	})

	t.Run("display data carries the draft", func(t *testing.T) {
		reqs := responder.requests()
		if len(reqs) != 1 {
			t.Fatalf("got %d approval requests, want 1", len(reqs))
		}
		if reqs[0].DisplayData["Draft"] != "draft-1" {
			t.Errorf("display data = %#v", reqs[0].DisplayData)
		}
	})

	t.Run("rejected branch skipped", func(t *testing.T) {
		if st := exec.NodeState("out-no"); st.Status != StatusSkipped {
			t.Errorf("out-no status = %s, want skipped", st.Status)
		}
		if st := exec.NodeState("out-ok"); st.Status != StatusComplete {
			t.Errorf("out-ok status = %s, want complete", st.Status)
		}
	})

	t.Run("event stream shape", func(t *testing.T) {
		events := rec.Events()
		if len(events) == 0 {
			t.Fatal("no events captured")
		}
		if events[0].Type != emit.EventExecutionStart {
			t.Errorf("first event = %s, want execution-start", events[0].Type)
		}
		term, _ := rec.Terminal()
		if term.Type != emit.EventExecutionComplete {
			t.Errorf("terminal event = %s, want execution-complete", term.Type)
		}
		if got := len(rec.ByType(emit.EventNodeWaiting)); got != 1 {
			t.Errorf("node-waiting events = %d, want 1", got)
		}
		for i := 1; i < len(events); i++ {
			if events[i].Seq <= events[i-1].Seq {
				t.Fatalf("event %d out of order: seq %d after %d", i, events[i].Seq, events[i-1].Seq)
			}
		}
	})
}

func TestEngine_RejectionFeedbackLoop(t *testing.T) {
	mock := &runner.Mock{Responses: []runner.Response{
		textResponse("draft-1"),
		textResponse("draft-2"),
	}}
	engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	wf := approvalWorkflow(map[string]any{
		"userQuery": "Summarize: {{Start}}",
		"rejectionHandler": map[string]any{
			"maxRetries":      float64(2),
			"continueSession": true,
		},
	})
	// Rejected approvals feed back into the agent.
	wf.Edges = append(wf.Edges, mkEdge("gate", "agent", "rejected"))

	responder := &approvalResponder{
		engine: engine,
		decide: func(req emit.ApprovalRequest, call int) ApprovalResponse {
			if call == 1 {
				return ApprovalResponse{Approved: false, Feedback: "Use bullets"}
			}
			return ApprovalResponse{Approved: true}
		},
	}
	rec := emit.NewRecorder()

	exec, err := engine.Start(context.Background(), wf, "hello", rec, responder)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := exec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	out, _ := result.(map[string]any)
	if approved, _ := out["approved"].(bool); !approved {
		t.Fatalf("final result = %#v, want approved", result)
	}

	t.Run("agent ran twice with incrementing run counts", func(t *testing.T) {
		var counts []int
		for _, ev := range rec.ByType(emit.EventNodeStart) {
			if ev.NodeID == "agent" {
				counts = append(counts, ev.RunCount)
			}
		}
		if len(counts) != 2 || counts[0] != 1 || counts[1] != 2 {
			t.Errorf("agent run counts = %v, want [1 2]", counts)
		}
	})

	t.Run("second run carries the feedback", func(t *testing.T) {
		calls := mock.Calls()
		if len(calls) != 2 {
			t.Fatalf("agent runner called %d times, want 2", len(calls))
		}
		if !strings.Contains(calls[1].Prompt, "Use bullets") {
			t.Errorf("second prompt missing feedback: %q", calls[1].Prompt)
		}
		if !strings.Contains(calls[1].Prompt, "Summarize: hello") {
			t.Errorf("second prompt missing the original query: %q", calls[1].Prompt)
		}
	})

	t.Run("continueSession resumes the conversation", func(t *testing.T) {
		calls := mock.Calls()
		if calls[0].SessionID != "" {
			t.Errorf("first call session = %q, want empty", calls[0].SessionID)
		}
		if calls[1].SessionID != "sess-1" {
			t.Errorf("second call session = %q, want sess-1", calls[1].SessionID)
		}
	})
}

func TestEngine_RejectionRetriesExhausted(t *testing.T) {
	t.Run("fail aborts the run", func(t *testing.T) {
		mock := &runner.Mock{Responses: []runner.Response{textResponse("draft")}}
		engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		wf := approvalWorkflow(map[string]any{
			"userQuery": "draft it",
			"rejectionHandler": map[string]any{
				"maxRetries": float64(1),
			},
		})
		wf.Edges = append(wf.Edges, mkEdge("gate", "agent", "rejected"))

		responder := &approvalResponder{
			engine: engine,
			decide: func(req emit.ApprovalRequest, call int) ApprovalResponse {
				return ApprovalResponse{Approved: false, Feedback: "no"}
			},
		}

		exec, err := engine.Start(context.Background(), wf, "x", responder)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		_, err = exec.Wait(context.Background())
		if err == nil {
			t.Fatal("Wait succeeded, want retry-exhaustion failure")
		}
		if !strings.Contains(err.Error(), "rejection retries") {
			t.Errorf("error = %v, want rejection retries exhausted", err)
		}
	})

	t.Run("approve-anyway completes the approved branch", func(t *testing.T) {
		mock := &runner.Mock{Responses: []runner.Response{textResponse("draft")}}
		engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		wf := approvalWorkflow(map[string]any{
			"userQuery": "draft it",
			"rejectionHandler": map[string]any{
				"maxRetries":   float64(1),
				"onMaxRetries": "approve-anyway",
			},
		})
		wf.Edges = append(wf.Edges, mkEdge("gate", "agent", "rejected"))

		responder := &approvalResponder{
			engine: engine,
			decide: func(req emit.ApprovalRequest, call int) ApprovalResponse {
				return ApprovalResponse{Approved: false, Feedback: "no"}
			},
		}

		exec, err := engine.Start(context.Background(), wf, "x", responder)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		result, err := exec.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		out, _ := result.(map[string]any)
		if approved, _ := out["approved"].(bool); !approved {
			t.Errorf("final result = %#v, want approved override", result)
		}
		if st := exec.NodeState("out-ok"); st.Status != StatusComplete {
			t.Errorf("out-ok status = %s, want complete", st.Status)
		}
	})
}

func TestEngine_ConditionBranching(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-branch",
		Name: "branching",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("cond", NodeCondition, "Route", map[string]any{
				"rules": []any{map[string]any{
					"inputReference": "{{Start}}",
					"operator":       "equals",
					"compareValue":   "hello",
				}},
			}),
			mkNode("yes", NodeJavaScript, "YesPath", map[string]any{"code": `"took-yes"`}),
			mkNode("no", NodeJavaScript, "NoPath", map[string]any{"code": `"took-no"`}),
			mkNode("join", NodeMerge, "Join", nil),
			mkNode("out", NodeOutput, "Done", nil),
		},
		Edges: []Edge{
			mkEdge("in", "cond", ""),
			mkEdge("cond", "yes", "true"),
			mkEdge("cond", "no", "false"),
			mkEdge("yes", "join", ""),
			mkEdge("no", "join", ""),
			mkEdge("join", "out", ""),
		},
	}

	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	t.Run("true branch", func(t *testing.T) {
		rec := emit.NewRecorder()
		exec, err := engine.Start(context.Background(), wf, "hello", rec)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		result, err := exec.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if result != "took-yes" {
			t.Errorf("result = %#v, want took-yes", result)
		}
		if st := exec.NodeState("no"); st.Status != StatusSkipped {
			t.Errorf("no-path status = %s, want skipped", st.Status)
		}
		for _, ev := range rec.ByType(emit.EventNodeStart) {
			if ev.NodeID == "no" {
				t.Error("masked branch emitted node-start")
			}
		}
	})

	t.Run("false branch", func(t *testing.T) {
		exec, err := engine.Start(context.Background(), wf, "other")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		result, err := exec.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if result != "took-no" {
			t.Errorf("result = %#v, want took-no", result)
		}
		if st := exec.NodeState("yes"); st.Status != StatusSkipped {
			t.Errorf("yes-path status = %s, want skipped", st.Status)
		}
	})
}

func TestEngine_MergeWaitAll(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-merge",
		Name: "parallel merge",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("a", NodeJavaScript, "Alpha", map[string]any{"code": `input + "-a"`}),
			mkNode("b", NodeJavaScript, "Beta", map[string]any{"code": `input + "-b"`}),
			mkNode("join", NodeMerge, "Join", map[string]any{"strategy": "wait-all"}),
			mkNode("out", NodeOutput, "Done", nil),
		},
		Edges: []Edge{
			mkEdge("in", "a", ""),
			mkEdge("in", "b", ""),
			mkEdge("a", "join", ""),
			mkEdge("b", "join", ""),
			mkEdge("join", "out", ""),
		},
	}

	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	exec, err := engine.Start(context.Background(), wf, "x")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := exec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	merged, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want name-keyed map", result)
	}
	if merged["Alpha"] != "x-a" || merged["Beta"] != "x-b" {
		t.Errorf("merged result = %#v", merged)
	}
}

func TestEngine_MergeFirstComplete(t *testing.T) {
	fast := &runner.Mock{Responses: []runner.Response{textResponse("fast")}}
	slow := &runner.Mock{
		Responses: []runner.Response{textResponse("slow")},
		Delay:     func() { time.Sleep(150 * time.Millisecond) },
	}

	wf := &Workflow{
		ID:   "wf-race",
		Name: "first complete",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("a", NodeClaudeAgent, "Fast", map[string]any{"userQuery": "go"}),
			mkNode("b", NodeCodexAgent, "Slow", map[string]any{"userQuery": "go"}),
			mkNode("join", NodeMerge, "Join", map[string]any{"strategy": "first-complete"}),
			mkNode("out", NodeOutput, "Done", nil),
		},
		Edges: []Edge{
			mkEdge("in", "a", ""),
			mkEdge("in", "b", ""),
			mkEdge("a", "join", ""),
			mkEdge("b", "join", ""),
			mkEdge("join", "out", ""),
		},
	}

	engine, err := NewEngine(
		WithRunner(runner.KindClaude, fast),
		WithRunner(runner.KindCodex, slow),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	exec, err := engine.Start(context.Background(), wf, "x")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := exec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if result != "fast" {
		t.Errorf("result = %#v, want the first completion", result)
	}
	// The loser is not cancelled; it runs to completion and its late output
	// is ignored by the already-finished merge.
	if st := exec.NodeState("b"); st.Status != StatusComplete {
		t.Errorf("slow branch status = %s, want complete", st.Status)
	}
}

func TestEngine_ApprovalTimeout(t *testing.T) {
	t.Run("reject on timeout", func(t *testing.T) {
		mock := &runner.Mock{Responses: []runner.Response{textResponse("draft")}}
		engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		wf := approvalWorkflow(nil)
		gate := wf.NodeByID("gate")
		gate.Config["timeoutMinutes"] = float64(0.002) // 120ms
		gate.Config["timeoutAction"] = "reject"

		exec, err := engine.Start(context.Background(), wf, "hello")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		result, err := exec.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		out, _ := result.(map[string]any)
		if approved, _ := out["approved"].(bool); approved {
			t.Errorf("result = %#v, want rejected", result)
		}
		if out["feedback"] != "Timed out waiting for approval" {
			t.Errorf("feedback = %q", out["feedback"])
		}
	})

	t.Run("fail on timeout", func(t *testing.T) {
		mock := &runner.Mock{Responses: []runner.Response{textResponse("draft")}}
		engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		wf := approvalWorkflow(nil)
		gate := wf.NodeByID("gate")
		gate.Config["timeoutMinutes"] = float64(0.002)
		gate.Config["timeoutAction"] = "fail"

		exec, err := engine.Start(context.Background(), wf, "hello")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		_, err = exec.Wait(context.Background())
		if err == nil {
			t.Fatal("Wait succeeded, want approval timeout failure")
		}
		var aerr *ApprovalTimeoutError
		if !errors.As(err, &aerr) {
			t.Errorf("error = %v, want ApprovalTimeoutError", err)
		}
	})
}

func TestEngine_Interrupt(t *testing.T) {
	mock := &runner.Mock{Responses: []runner.Response{textResponse("draft")}}
	engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	rec := emit.NewRecorder()
	waiting := make(chan string, 1)
	interruptOn := sinkFunc(func(ev emit.Event) {
		if ev.Type == emit.EventNodeWaiting {
			select {
			case waiting <- ev.ExecutionID:
			default:
			}
		}
	})

	exec, err := engine.Start(context.Background(), approvalWorkflow(nil), "hello", rec, interruptOn)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("approval never parked")
	}

	exec.Interrupt()
	exec.Interrupt() // idempotent

	_, err = exec.Wait(context.Background())
	var xerr *ExecutionError
	if !errors.As(err, &xerr) || !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait error = %v, want ExecutionError wrapping ErrCancelled", err)
	}

	if got := len(rec.ByType(emit.EventExecutionError)); got != 1 {
		t.Errorf("execution-error events = %d, want exactly 1", got)
	}
	if got := len(rec.ByType(emit.EventNodeError)); got != 0 {
		t.Errorf("node-error events = %d, want 0 on interrupt", got)
	}
	if n := engine.Approvals().PendingCount(); n != 0 {
		t.Errorf("pending approvals after interrupt = %d, want 0", n)
	}

	t.Run("interrupt by execution id", func(t *testing.T) {
		if err := engine.Interrupt("no-such-execution"); !errors.Is(err, ErrExecutionNotFound) {
			t.Errorf("Interrupt(unknown) = %v, want ErrExecutionNotFound", err)
		}
		if err := engine.Interrupt(exec.ID()); err != nil {
			t.Errorf("Interrupt(finished) = %v, want nil", err)
		}
	})
}

func TestEngine_NodeFailureAbortsRun(t *testing.T) {
	mock := &runner.Mock{Err: errors.New("backend unavailable")}
	engine, err := NewEngine(WithRunner(runner.KindClaude, mock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	wf := &Workflow{
		ID:   "wf-fail",
		Name: "failing",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("agent", NodeClaudeAgent, "Worker", map[string]any{"userQuery": "go"}),
			mkNode("out", NodeOutput, "Done", nil),
		},
		Edges: []Edge{
			mkEdge("in", "agent", ""),
			mkEdge("agent", "out", ""),
		},
	}

	rec := emit.NewRecorder()
	exec, err := engine.Start(context.Background(), wf, "x", rec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = exec.Wait(context.Background())
	if err == nil {
		t.Fatal("Wait succeeded, want node failure")
	}
	var nerr *NodeError
	if !errors.As(err, &nerr) {
		t.Fatalf("error = %v, want NodeError", err)
	}
	if nerr.NodeID != "agent" {
		t.Errorf("failing node = %s, want agent", nerr.NodeID)
	}

	if got := len(rec.ByType(emit.EventNodeError)); got != 1 {
		t.Errorf("node-error events = %d, want 1", got)
	}
	term, _ := rec.Terminal()
	if term.Type != emit.EventExecutionError {
		t.Errorf("terminal event = %s, want execution-error", term.Type)
	}
	if st := exec.NodeState("out"); st.Status == StatusComplete {
		t.Error("output node completed after upstream failure")
	}
}

func TestEngine_ValidationFailure(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-bad",
		Name: "no input",
		Nodes: []Node{
			mkNode("out", NodeOutput, "Done", nil),
		},
	}

	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rec := emit.NewRecorder()

	_, err = engine.Start(context.Background(), wf, "x", rec)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Start error = %v, want ValidationError", err)
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Type != emit.EventValidationError {
		t.Fatalf("events = %v, want a single validation-error", events)
	}
	if len(events[0].Issues) == 0 {
		t.Error("validation-error event carries no issues")
	}
}

func TestEngine_ExecutePersistsSummary(t *testing.T) {
	st := newTestStore()
	engine, err := NewEngine(WithStore(st))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	wf := &Workflow{
		ID:   "wf-lin",
		Name: "linear",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("up", NodeJavaScript, "Upper", map[string]any{"code": `upper(input)`}),
			mkNode("out", NodeOutput, "Done", nil),
		},
		Edges: []Edge{
			mkEdge("in", "up", ""),
			mkEdge("up", "out", ""),
		},
	}

	exec, err := engine.Start(context.Background(), wf, "abc")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := exec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != "ABC" {
		t.Errorf("result = %#v, want ABC", result)
	}

	sum, err := st.GetExecution(context.Background(), exec.ID())
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if sum.Status != ExecutionComplete {
		t.Errorf("summary status = %s, want complete", sum.Status)
	}
	if sum.FinalResult != "ABC" {
		t.Errorf("summary final result = %#v", sum.FinalResult)
	}
	if run, ok := sum.Nodes["up"]; !ok || run.Status != StatusComplete {
		t.Errorf("summary node run = %#v", sum.Nodes["up"])
	}

	list, err := st.ListExecutions(context.Background(), "wf-lin")
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListExecutions returned %d summaries, want 1", len(list))
	}
}

func TestEngine_SubmitApprovalWithoutPending(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if engine.SubmitApproval("exec-1", "node-1", ApprovalResponse{Approved: true}) {
		t.Error("SubmitApproval returned true with nothing pending")
	}
	if engine.CancelApproval("exec-1", "node-1") {
		t.Error("CancelApproval returned true with nothing pending")
	}
}

// sinkFunc adapts a function to emit.Sink.
type sinkFunc func(emit.Event)

func (f sinkFunc) Handle(ev emit.Event) { f(ev) }
