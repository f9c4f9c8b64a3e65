package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smogili1/agentflow/flow/emit"
)

// approvalExecutor parks the execution on the approval registry until a
// human responds, the configured timeout fires, or the run is cancelled.
type approvalExecutor struct{}

func (approvalExecutor) Type() NodeType { return NodeApproval }

type approvalSelection struct {
	nodeID   string
	nodeName string
	fields   []string
}

type approvalConfig struct {
	promptMessage  string
	feedbackPrompt string
	timeoutMinutes float64
	timeoutAction  string // approve, reject, fail
	selections     []approvalSelection
}

func parseApprovalConfig(node *Node) (*approvalConfig, error) {
	cfg := &approvalConfig{timeoutAction: "reject"}

	cfg.promptMessage, _ = node.Config["promptMessage"].(string)
	if strings.TrimSpace(cfg.promptMessage) == "" {
		return nil, fmt.Errorf("promptMessage is required")
	}
	cfg.feedbackPrompt, _ = node.Config["feedbackPrompt"].(string)

	if v, ok := node.Config["timeoutMinutes"]; ok {
		mins, ok := v.(float64)
		if !ok || mins < 0 {
			return nil, fmt.Errorf("timeoutMinutes must be a non-negative number")
		}
		cfg.timeoutMinutes = mins
	}
	if v, ok := node.Config["timeoutAction"].(string); ok && v != "" {
		switch v {
		case "approve", "reject", "fail":
			cfg.timeoutAction = v
		default:
			return nil, fmt.Errorf("unknown timeoutAction %q", v)
		}
	}

	raw, ok := node.Config["inputSelections"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("inputSelections must be a non-empty array")
	}
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("inputSelections[%d] is not an object", i)
		}
		sel := approvalSelection{}
		sel.nodeID, _ = m["nodeId"].(string)
		sel.nodeName, _ = m["nodeName"].(string)
		if sel.nodeID == "" && sel.nodeName == "" {
			return nil, fmt.Errorf("inputSelections[%d] needs nodeId or nodeName", i)
		}
		if fields, ok := m["fields"].([]any); ok {
			for _, f := range fields {
				if s, ok := f.(string); ok && s != "" {
					sel.fields = append(sel.fields, s)
				}
			}
		}
		cfg.selections = append(cfg.selections, sel)
	}

	return cfg, nil
}

func (approvalExecutor) Validate(node *Node) error {
	if _, err := parseApprovalConfig(node); err != nil {
		return &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}
	return nil
}

func (approvalExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	cfg, err := parseApprovalConfig(node)
	if err != nil {
		return nil, &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}

	displayData := gatherDisplayData(cfg.selections, ec)

	var (
		timeout   time.Duration
		timeoutAt time.Time
	)
	if cfg.timeoutMinutes > 0 {
		timeout = time.Duration(cfg.timeoutMinutes * float64(time.Minute))
		timeoutAt = time.Now().Add(timeout)
	}

	req := emit.ApprovalRequest{
		NodeID:         node.ID,
		NodeName:       node.Name,
		PromptMessage:  ec.Interpolate(cfg.promptMessage),
		FeedbackPrompt: cfg.feedbackPrompt,
		DisplayData:    displayData,
		TimeoutAt:      timeoutAt,
	}

	// Register before emitting node-waiting so a subscriber reacting to the
	// event always finds the entry.
	outcomeCh := env.Approvals.register(ec.ExecutionID(), node.ID, timeout, func() approvalOutcome {
		switch cfg.timeoutAction {
		case "approve":
			return approvalOutcome{resp: ApprovalResponse{Approved: true, RespondedAt: time.Now()}}
		case "fail":
			return approvalOutcome{err: &ApprovalTimeoutError{NodeID: node.ID}}
		default:
			return approvalOutcome{resp: ApprovalResponse{
				Approved:    false,
				Feedback:    "Timed out waiting for approval",
				RespondedAt: time.Now(),
			}}
		}
	})

	env.Waiting(req)

	var out approvalOutcome
	select {
	case out = <-outcomeCh:
	case <-ctx.Done():
		env.Approvals.Cancel(ec.ExecutionID(), node.ID)
		return nil, ctx.Err()
	}
	if out.err != nil {
		if errors.Is(out.err, ErrCancelled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, out.err
	}

	ec.SetVariable("node."+node.ID+".approved", out.resp.Approved)
	ec.SetVariable("node."+node.ID+".feedback", out.resp.Feedback)

	result := map[string]any{
		"approved":      out.resp.Approved,
		"respondedAt":   out.resp.RespondedAt,
		"displayedData": displayData,
	}
	if out.resp.Feedback != "" {
		result["feedback"] = out.resp.Feedback
	}
	return &ExecResult{Output: result}, nil
}

func (approvalExecutor) OutputHandle(res *ExecResult, node *Node) string {
	if out, ok := res.Output.(map[string]any); ok {
		if approved, ok := out["approved"].(bool); ok && approved {
			return "approved"
		}
	}
	return "rejected"
}

// gatherDisplayData resolves each input selection against node outputs.
// Name lookup is preferred; unknown names fall back to treating the value
// as a node id. Empty field lists include the whole output.
func gatherDisplayData(selections []approvalSelection, ec *ExecutionContext) map[string]any {
	data := make(map[string]any, len(selections))
	for _, sel := range selections {
		id := sel.nodeID
		label := sel.nodeName
		if sel.nodeName != "" {
			if resolved, ok := ec.NodeID(sel.nodeName); ok {
				id = resolved
			} else if id == "" {
				id = sel.nodeName
			}
		}
		if label == "" {
			if name, ok := ec.NodeName(id); ok {
				label = name
			} else {
				label = id
			}
		}

		output, ok := ec.Output(id)
		if !ok {
			continue
		}
		if len(sel.fields) == 0 {
			data[label] = output
			continue
		}
		fields := make(map[string]any, len(sel.fields))
		for _, path := range sel.fields {
			if value, ok := getNestedValue(output, strings.Split(path, ".")); ok {
				fields[path] = value
			}
		}
		data[label] = fields
	}
	return data
}
