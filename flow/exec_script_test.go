package flow

import (
	"context"
	"errors"
	"testing"
)

func scriptContext(t *testing.T) *ExecutionContext {
	t.Helper()
	wf := &Workflow{
		ID: "wf-script",
		Nodes: []Node{
			mkNode("in", NodeInput, "Start", nil),
			mkNode("a", NodeJavaScript, "Counts", map[string]any{"code": "1"}),
			mkNode("b", NodeJavaScript, "Labels", map[string]any{"code": "1"}),
			mkNode("xf", NodeJavaScript, "Transform", nil),
		},
		Edges: []Edge{
			mkEdge("in", "a", ""),
			mkEdge("in", "b", ""),
			mkEdge("a", "xf", ""),
			mkEdge("b", "xf", ""),
		},
	}
	ec := NewExecutionContext("x1", wf, map[string]any{"seed": float64(3)}, "")
	ec.SetOutput("a", map[string]any{"total": float64(10)})
	ec.SetOutput("b", []any{"x", "y"})
	return ec
}

func TestScriptExecutor_PredecessorBinding(t *testing.T) {
	ec := scriptContext(t)
	node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{
		"code": `{"total": Counts.total, "count": len(Labels), "seed": input.seed}`,
	})

	res, err := (scriptExecutor{}).Execute(context.Background(), &node, ec, &ExecEnv{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, ok := res.Output.(map[string]any)
	if !ok {
		t.Fatalf("output is %T, want map", res.Output)
	}
	if out["total"] != float64(10) || out["count"] != float64(2) || out["seed"] != float64(3) {
		t.Errorf("output = %#v", out)
	}
}

func TestScriptExecutor_InputMappings(t *testing.T) {
	ec := scriptContext(t)
	node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{
		"code": `t * 2`,
		"inputMappings": map[string]any{
			"t":       "Counts.total",
			"missing": "Nowhere.at.all",
		},
	})

	res, err := (scriptExecutor{}).Execute(context.Background(), &node, ec, &ExecEnv{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != float64(20) {
		t.Errorf("output = %#v, want 20", res.Output)
	}
}

func TestScriptExecutor_RuntimeError(t *testing.T) {
	ec := scriptContext(t)
	node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{
		// Compiles with undefined variables allowed, fails at run time.
		"code": `undefinedThing.field`,
	})

	_, err := (scriptExecutor{}).Execute(context.Background(), &node, ec, &ExecEnv{})
	var serr *ScriptError
	if !errors.As(err, &serr) {
		t.Errorf("error = %v, want ScriptError", err)
	}
}

func TestScriptExecutor_Validate(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{})
		if err := (scriptExecutor{}).Validate(&node); err == nil {
			t.Error("missing code accepted")
		}
	})
	t.Run("syntax error", func(t *testing.T) {
		node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{"code": `1 +`})
		if err := (scriptExecutor{}).Validate(&node); err == nil {
			t.Error("syntax error accepted")
		}
	})
	t.Run("negative timeout", func(t *testing.T) {
		node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{"code": "1", "timeout": float64(-1)})
		if err := (scriptExecutor{}).Validate(&node); err == nil {
			t.Error("negative timeout accepted")
		}
	})
	t.Run("valid", func(t *testing.T) {
		node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{"code": `input + "!"`})
		if err := (scriptExecutor{}).Validate(&node); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}

func TestScriptExecutor_Cancellation(t *testing.T) {
	ec := scriptContext(t)
	node := mkNode("xf", NodeJavaScript, "Transform", map[string]any{"code": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A pre-cancelled context can still lose the race to the script's own
	// completion; accept either outcome but never a hang.
	res, err := (scriptExecutor{}).Execute(ctx, &node, ec, &ExecEnv{})
	if err == nil && res == nil {
		t.Error("no result and no error")
	}
}
