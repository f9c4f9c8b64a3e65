package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

// agentConfig is the decoded configuration shared by claude-agent and
// codex-agent nodes.
type agentConfig struct {
	userQuery        string
	model            string
	systemPrompt     string
	tools            []string
	mcpServers       []string
	workingDirectory string
	maxTurns         int
	timeout          time.Duration
	persistSession   bool
	format           runner.Format
	schema           map[string]any
	rejection        *rejectionHandler
}

// rejectionHandler controls how an agent node behaves inside a
// rejection-feedback loop.
type rejectionHandler struct {
	maxRetries       int
	continueSession  bool
	feedbackTemplate string
	onMaxRetries     string // fail, skip, approve-anyway
}

const defaultFeedbackTemplate = "The previous result was rejected with this feedback:\n{{feedback}}\n\nPlease address the feedback and try again.\n\n"

func parseAgentConfig(node *Node) (*agentConfig, error) {
	cfg := &agentConfig{format: runner.FormatText}

	cfg.userQuery, _ = node.Config["userQuery"].(string)
	if strings.TrimSpace(cfg.userQuery) == "" {
		return nil, fmt.Errorf("userQuery is required")
	}
	cfg.model, _ = node.Config["model"].(string)
	cfg.systemPrompt, _ = node.Config["systemPrompt"].(string)
	cfg.workingDirectory, _ = node.Config["workingDirectory"].(string)

	if raw, ok := node.Config["tools"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				cfg.tools = append(cfg.tools, s)
			}
		}
	}
	if raw, ok := node.Config["mcpServers"].([]any); ok {
		for _, s := range raw {
			if name, ok := s.(string); ok {
				cfg.mcpServers = append(cfg.mcpServers, name)
			}
		}
	}
	if v, ok := node.Config["maxTurns"].(float64); ok {
		cfg.maxTurns = int(v)
	}
	if v, ok := node.Config["timeout"].(float64); ok && v > 0 {
		cfg.timeout = time.Duration(v * float64(time.Second))
	}
	if mode, ok := node.Config["conversationMode"].(string); ok {
		switch mode {
		case "persist":
			cfg.persistSession = true
		case "", "fresh":
		default:
			return nil, fmt.Errorf("unknown conversationMode %q", mode)
		}
	}

	if oc, ok := node.Config["outputConfig"].(map[string]any); ok {
		switch format, _ := oc["format"].(string); format {
		case "json":
			cfg.format = runner.FormatJSON
		case "", "text":
		default:
			return nil, fmt.Errorf("unknown output format %q", oc["format"])
		}
		if schema, ok := oc["schema"].(map[string]any); ok {
			cfg.schema = schema
		}
	}

	if rh, ok := node.Config["rejectionHandler"].(map[string]any); ok {
		handler := &rejectionHandler{
			feedbackTemplate: defaultFeedbackTemplate,
			onMaxRetries:     "fail",
		}
		if v, ok := rh["maxRetries"].(float64); ok {
			handler.maxRetries = int(v)
		}
		if v, ok := rh["continueSession"].(bool); ok {
			handler.continueSession = v
		}
		if v, ok := rh["feedbackTemplate"].(string); ok && v != "" {
			handler.feedbackTemplate = v
		}
		if v, ok := rh["onMaxRetries"].(string); ok && v != "" {
			switch v {
			case "fail", "skip", "approve-anyway":
				handler.onMaxRetries = v
			default:
				return nil, fmt.Errorf("unknown onMaxRetries %q", v)
			}
		}
		cfg.rejection = handler
	}

	return cfg, nil
}

// agentExecutor runs claude-agent and codex-agent nodes through an
// external runner, re-emitting every streaming chunk as a node-output
// event.
type agentExecutor struct {
	nodeType  NodeType
	runnerKey string
}

func (e *agentExecutor) Type() NodeType { return e.nodeType }

func (e *agentExecutor) Validate(node *Node) error {
	if _, err := parseAgentConfig(node); err != nil {
		return &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}
	return nil
}

func (e *agentExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	cfg, err := parseAgentConfig(node)
	if err != nil {
		return nil, &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}

	r, ok := env.Runners[e.runnerKey]
	if !ok {
		return nil, &AgentError{Err: fmt.Errorf("no %s runner configured", e.runnerKey)}
	}

	prompt := ec.Interpolate(cfg.userQuery)
	if env.Feedback != "" {
		template := defaultFeedbackTemplate
		if cfg.rejection != nil && cfg.rejection.feedbackTemplate != "" {
			template = cfg.rejection.feedbackTemplate
		}
		prompt = strings.ReplaceAll(template, "{{feedback}}", env.Feedback) + prompt
	}

	workingDir := cfg.workingDirectory
	if workingDir == "" {
		workingDir = ec.WorkingDirectory()
	}

	sessionKey := "node." + node.ID + ".session"
	sessionID := ""
	resume := cfg.persistSession || (env.Feedback != "" && cfg.rejection != nil && cfg.rejection.continueSession)
	if resume {
		if v, ok := ec.Variable(sessionKey); ok {
			sessionID, _ = v.(string)
		}
	}

	env.Stream(emit.StreamEvent{Type: emit.StreamRunStart, RunCount: env.RunCount})

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	res, err := r.Run(runCtx, runner.Request{
		Prompt:           prompt,
		SystemPrompt:     ec.Interpolate(cfg.systemPrompt),
		Model:            cfg.model,
		Tools:            cfg.tools,
		MCPServers:       cfg.mcpServers,
		WorkingDirectory: workingDir,
		MaxTurns:         cfg.maxTurns,
		Format:           cfg.format,
		Schema:           cfg.schema,
		SessionID:        sessionID,
	}, func(chunk runner.Chunk) {
		env.Stream(streamEventFromChunk(chunk))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cfg.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			env.Stream(emit.StreamEvent{Type: emit.StreamError, Text: "agent timed out"})
			return nil, &TimeoutError{What: "agent"}
		}
		env.Stream(emit.StreamEvent{Type: emit.StreamError, Text: err.Error()})
		return nil, &AgentError{Err: err}
	}

	ec.SetVariable(sessionKey, res.SessionID)

	var output any = res.Text
	if cfg.format == runner.FormatJSON {
		var doc any
		if err := json.Unmarshal(res.JSON, &doc); err != nil {
			return nil, &AgentError{Err: fmt.Errorf("decode agent JSON output: %w", err)}
		}
		output = doc
	}

	env.Stream(emit.StreamEvent{Type: emit.StreamComplete})

	return &ExecResult{
		Output: output,
		Metadata: map[string]any{
			"sessionId":    res.SessionID,
			"turns":        res.Turns,
			"inputTokens":  res.Usage.InputTokens,
			"outputTokens": res.Usage.OutputTokens,
		},
	}, nil
}

func streamEventFromChunk(chunk runner.Chunk) emit.StreamEvent {
	ev := emit.StreamEvent{Text: chunk.Text, Tool: chunk.Tool}
	if len(chunk.Payload) > 0 {
		var data any
		if err := json.Unmarshal(chunk.Payload, &data); err == nil {
			ev.Data = data
		}
	}
	switch chunk.Type {
	case runner.ChunkTextDelta:
		ev.Type = emit.StreamTextDelta
	case runner.ChunkToolUse:
		ev.Type = emit.StreamToolUse
	case runner.ChunkToolResult:
		ev.Type = emit.StreamToolResult
	case runner.ChunkThinking:
		ev.Type = emit.StreamThinking
	case runner.ChunkTodoList:
		ev.Type = emit.StreamTodoList
	default:
		ev.Type = emit.StreamType(chunk.Type)
	}
	return ev
}
