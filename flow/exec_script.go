package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
)

const defaultScriptTimeout = 10 * time.Second

// scriptExecutor runs a scripted transform over upstream outputs. The
// script is an expr expression evaluated against a value-typed input bag;
// it can read nothing outside its inputs and must produce a
// JSON-representable value.
type scriptExecutor struct{}

func (scriptExecutor) Type() NodeType { return NodeJavaScript }

func (scriptExecutor) Validate(node *Node) error {
	code, _ := node.Config["code"].(string)
	if code == "" {
		return &NodeConfigError{NodeID: node.ID, Message: "script code is required"}
	}
	if _, err := expr.Compile(code, expr.AllowUndefinedVariables()); err != nil {
		return &NodeConfigError{NodeID: node.ID, Message: fmt.Sprintf("script does not compile: %v", err)}
	}
	if t, ok := node.Config["timeout"]; ok {
		if secs, ok := t.(float64); !ok || secs < 0 {
			return &NodeConfigError{NodeID: node.ID, Message: "timeout must be a non-negative number of seconds"}
		}
	}
	return nil
}

func (scriptExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	code, _ := node.Config["code"].(string)

	program, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &ScriptError{Err: err}
	}

	inputs := scriptInputs(node, ec)

	timeout := defaultScriptTimeout
	if secs, ok := node.Config["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := expr.Run(program, inputs)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &ScriptError{Err: out.err}
		}
		value, err := toJSONValue(out.value)
		if err != nil {
			return nil, &ScriptError{Err: err}
		}
		return &ExecResult{Output: value}, nil
	case <-time.After(timeout):
		return nil, &TimeoutError{What: "script"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// scriptInputs builds the evaluation environment. With inputMappings each
// entry binds a variable name to a predecessor's output (by node name or
// id); without mappings every predecessor output is bound under its node
// name, plus "input" for the workflow input.
func scriptInputs(node *Node, ec *ExecutionContext) map[string]any {
	inputs := map[string]any{"input": ec.Input()}

	if mappings, ok := node.Config["inputMappings"].(map[string]any); ok && len(mappings) > 0 {
		for varName, ref := range mappings {
			refStr, _ := ref.(string)
			if value, ok := ec.ResolveReference(refStr); ok {
				inputs[varName] = value
			} else {
				inputs[varName] = nil
			}
		}
		return inputs
	}

	for _, pred := range ec.PredecessorsOf(node.ID) {
		if out, ok := ec.Output(pred); ok {
			name := pred
			if n, ok := ec.NodeName(pred); ok {
				name = n
			}
			inputs[name] = out
		}
	}
	return inputs
}

// toJSONValue normalizes a script result to JSON-representable values,
// rejecting anything that cannot encode.
func toJSONValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("script result is not JSON-representable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
