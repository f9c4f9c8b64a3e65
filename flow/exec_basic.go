package flow

import (
	"context"
	"fmt"
)

// inputExecutor returns the workflow input verbatim. It anchors the
// readiness frontier: the input node has no predecessors and is dispatched
// first.
type inputExecutor struct{}

func (inputExecutor) Type() NodeType            { return NodeInput }
func (inputExecutor) Validate(node *Node) error { return nil }

func (inputExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	return &ExecResult{Output: ec.Input()}, nil
}

// outputExecutor returns its predecessors' outputs: the single value when
// one predecessor completed, a name-keyed mapping when several did.
type outputExecutor struct{}

func (outputExecutor) Type() NodeType            { return NodeOutput }
func (outputExecutor) Validate(node *Node) error { return nil }

func (outputExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	var (
		single   any
		complete int
		byName   = map[string]any{}
	)
	for _, pred := range ec.PredecessorsOf(node.ID) {
		out, ok := ec.Output(pred)
		if !ok {
			continue
		}
		complete++
		single = out
		name := pred
		if n, ok := ec.NodeName(pred); ok {
			name = n
		}
		byName[name] = out
	}

	switch complete {
	case 0:
		return nil, fmt.Errorf("output node has no completed predecessor")
	case 1:
		return &ExecResult{Output: single}, nil
	default:
		return &ExecResult{Output: byName}, nil
	}
}

// mergeExecutor is intentionally trivial. Readiness and input selection
// are engine responsibilities (wait-all vs first-complete); the engine
// stages the selected value before dispatch and the executor passes it
// through.
type mergeExecutor struct{}

func (mergeExecutor) Type() NodeType { return NodeMerge }

func (mergeExecutor) Validate(node *Node) error {
	strategy, _ := node.Config["strategy"].(string)
	switch strategy {
	case "", "wait-all", "first-complete":
		return nil
	}
	return &NodeConfigError{NodeID: node.ID, Message: fmt.Sprintf("unknown merge strategy %q", node.Config["strategy"])}
}

func (mergeExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	value, ok := ec.stagedValue(node.ID)
	if !ok {
		return nil, fmt.Errorf("merge node dispatched without a staged input")
	}
	return &ExecResult{Output: value}, nil
}

// mergeStrategy reads a merge node's strategy, defaulting to wait-all.
func mergeStrategy(node *Node) string {
	if s, _ := node.Config["strategy"].(string); s != "" {
		return s
	}
	return "wait-all"
}
