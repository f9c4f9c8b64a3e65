package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

// reflectExecutor drives an agent to propose mutations to the running
// workflow, validates the proposal, and applies it according to the
// configured evolution mode. The proposing node itself is off-limits to
// every mutation.
type reflectExecutor struct{}

func (reflectExecutor) Type() NodeType { return NodeSelfReflect }

type reflectConfig struct {
	reflectionGoal     string
	agentType          string
	model              string
	mode               string
	scope              []string
	maxMutations       int
	includeTranscripts bool
	systemPrompt       string
}

func parseReflectConfig(node *Node) (*reflectConfig, error) {
	cfg := &reflectConfig{
		agentType:    runner.KindClaude,
		mode:         "suggest",
		maxMutations: defaultMaxMutations,
	}

	cfg.reflectionGoal, _ = node.Config["reflectionGoal"].(string)
	if strings.TrimSpace(cfg.reflectionGoal) == "" {
		return nil, fmt.Errorf("reflectionGoal is required")
	}
	if v, ok := node.Config["agentType"].(string); ok && v != "" {
		switch v {
		case runner.KindClaude, runner.KindCodex:
			cfg.agentType = v
		default:
			return nil, fmt.Errorf("unknown agentType %q", v)
		}
	}
	cfg.model, _ = node.Config["model"].(string)
	if v, ok := node.Config["evolutionMode"].(string); ok && v != "" {
		switch v {
		case "suggest", "auto-apply", "dry-run":
			cfg.mode = v
		default:
			return nil, fmt.Errorf("unknown evolutionMode %q", v)
		}
	}
	if raw, ok := node.Config["scope"].([]any); ok {
		for _, s := range raw {
			if scope, ok := s.(string); ok {
				switch scope {
				case ScopePrompts, ScopeModels, ScopeTools, ScopeNodes, ScopeEdges, ScopeParameters:
					cfg.scope = append(cfg.scope, scope)
				default:
					return nil, fmt.Errorf("unknown scope %q", scope)
				}
			}
		}
	}
	if v, ok := node.Config["maxMutations"].(float64); ok && v > 0 {
		cfg.maxMutations = int(v)
	}
	cfg.includeTranscripts, _ = node.Config["includeTranscripts"].(bool)
	cfg.systemPrompt, _ = node.Config["systemPrompt"].(string)

	return cfg, nil
}

func (reflectExecutor) Validate(node *Node) error {
	if _, err := parseReflectConfig(node); err != nil {
		return &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}
	return nil
}

func (reflectExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	cfg, err := parseReflectConfig(node)
	if err != nil {
		return nil, &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}

	r, ok := env.Runners[cfg.agentType]
	if !ok {
		return nil, &AgentError{Err: fmt.Errorf("no %s runner configured", cfg.agentType)}
	}

	prompt, err := buildReflectionPrompt(cfg, node, env.Workflow, ec)
	if err != nil {
		return nil, err
	}

	env.Stream(emit.StreamEvent{Type: emit.StreamRunStart, RunCount: env.RunCount})

	res, err := r.Run(ctx, runner.Request{
		Prompt:       prompt,
		SystemPrompt: cfg.systemPrompt,
		Model:        cfg.model,
		Format:       runner.FormatJSON,
		Schema:       evolutionSchema(),
	}, func(chunk runner.Chunk) {
		env.Stream(streamEventFromChunk(chunk))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AgentError{Err: err}
	}

	proposal, err := decodeEvolution(res.JSON)
	if err != nil {
		return nil, &AgentError{Err: fmt.Errorf("decode evolution proposal: %w", err)}
	}

	validation := ValidateEvolution(env.Workflow, proposal, env.Schemas, EvolutionOptions{
		Scope:        cfg.scope,
		MaxMutations: cfg.maxMutations,
		SelfNodeID:   node.ID,
	})

	before, err := snapshot(env.Workflow)
	if err != nil {
		return nil, err
	}

	applier := NewApplier(env.Store, env.HistoryRoot)
	opts := ApplyOptions{ExecutionID: ec.ExecutionID(), NodeID: node.ID, Mode: cfg.mode}

	var (
		after   *Snapshot
		applied bool
	)
	switch {
	case !validation.Valid:
		// Journal the rejected proposal; the node still completes so the
		// workflow can surface the findings downstream.
		record := reflectRecord(env.Workflow.ID, opts, validation.Sanitized, before, nil, false)
		record.ValidationErrors = validation.Errors
		if err := applier.AppendRecord(record); err != nil {
			return nil, err
		}

	case cfg.mode == "auto-apply":
		updated, _, err := applier.Apply(ctx, env.Workflow, validation.Sanitized, opts)
		if err != nil {
			return nil, err
		}
		if after, err = snapshot(updated); err != nil {
			return nil, err
		}
		applied = true

	case cfg.mode == "dry-run":
		projected, err := ProjectEvolution(env.Workflow, validation.Sanitized)
		if err != nil {
			return nil, err
		}
		if after, err = snapshot(projected); err != nil {
			return nil, err
		}
		if err := applier.AppendRecord(reflectRecord(env.Workflow.ID, opts, validation.Sanitized, before, after, false)); err != nil {
			return nil, err
		}

	default: // suggest
		if err := applier.AppendRecord(reflectRecord(env.Workflow.ID, opts, validation.Sanitized, before, nil, false)); err != nil {
			return nil, err
		}
	}

	env.Stream(emit.StreamEvent{Type: emit.StreamComplete})

	output := map[string]any{
		"evolution":        validation.Sanitized,
		"applied":          applied,
		"validationErrors": validation.Errors,
		"beforeSnapshot":   before,
		"afterSnapshot":    after,
	}
	return &ExecResult{Output: output}, nil
}

func reflectRecord(workflowID string, opts ApplyOptions, ev *WorkflowEvolution, before, after *Snapshot, applied bool) *EvolutionRecord {
	return &EvolutionRecord{
		Timestamp:      time.Now(),
		WorkflowID:     workflowID,
		ExecutionID:    opts.ExecutionID,
		SelfNodeID:     opts.NodeID,
		Mode:           opts.Mode,
		Mutations:      ev.Mutations,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Applied:        applied,
		Reasoning:      ev.Reasoning,
		ExpectedImpact: ev.ExpectedImpact,
		RiskAssessment: ev.RiskAssessment,
	}
}

func buildReflectionPrompt(cfg *reflectConfig, node *Node, wf *Workflow, ec *ExecutionContext) (string, error) {
	doc, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are improving an agent workflow. Goal:\n")
	b.WriteString(cfg.reflectionGoal)
	b.WriteString("\n\nCurrent workflow definition:\n")
	b.Write(doc)
	b.WriteString("\n\nPropose an ordered list of mutations. Allowed ops: ")
	b.WriteString(strings.Join([]string{
		OpUpdateNodeConfig, OpUpdatePrompt, OpUpdateModel, OpAddNode,
		OpRemoveNode, OpAddEdge, OpRemoveEdge, OpUpdateWorkflowSetting,
	}, ", "))
	b.WriteString(fmt.Sprintf(".\nNever touch node %q (the reflection node itself). Propose at most %d mutations.", node.ID, cfg.maxMutations))
	if len(cfg.scope) > 0 {
		b.WriteString(" Stay within these scopes: " + strings.Join(cfg.scope, ", ") + ".")
	}

	if cfg.includeTranscripts {
		outputs, err := json.MarshalIndent(ec.Outputs(), "", "  ")
		if err == nil {
			b.WriteString("\n\nNode outputs from the current execution:\n")
			b.Write(outputs)
		}
	}
	return b.String(), nil
}

// evolutionSchema is the JSON Schema sent to the agent describing the
// expected WorkflowEvolution document.
func evolutionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning":      map[string]any{"type": "string"},
			"expectedImpact": map[string]any{"type": "string"},
			"riskAssessment": map[string]any{"type": "string"},
			"mutations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"op": map[string]any{"type": "string"},
					},
					"required": []any{"op"},
				},
			},
		},
		"required": []any{"reasoning", "mutations"},
	}
}
