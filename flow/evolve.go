package flow

import (
	"encoding/json"
	"time"
)

// Mutation operation tags understood by the evolution validator and
// applier.
const (
	OpUpdateNodeConfig      = "update-node-config"
	OpUpdatePrompt          = "update-prompt"
	OpUpdateModel           = "update-model"
	OpAddNode               = "add-node"
	OpRemoveNode            = "remove-node"
	OpAddEdge               = "add-edge"
	OpRemoveEdge            = "remove-edge"
	OpUpdateWorkflowSetting = "update-workflow-setting"
)

// Mutation scopes, inferred per operation and checked against a
// self-reflect node's allowed scope set.
const (
	ScopePrompts    = "prompts"
	ScopeModels     = "models"
	ScopeTools      = "tools"
	ScopeNodes      = "nodes"
	ScopeEdges      = "edges"
	ScopeParameters = "parameters"
)

// Mutation is one proposed change to a workflow. It is a loose union: the
// populated fields depend on Op. Agent-produced mutations are decoded
// permissively and then validated.
type Mutation struct {
	Op string `json:"op"`

	// Target node for node-scoped ops (update-node-config, update-prompt,
	// update-model, remove-node).
	NodeID string `json:"nodeId,omitempty"`

	// Dotted configuration path for update-node-config.
	Path string `json:"path,omitempty"`

	// New value for config, prompt, model and setting updates.
	Value any `json:"value,omitempty"`

	// Field names the prompt/setting field (update-prompt,
	// update-workflow-setting).
	Field string `json:"field,omitempty"`

	// Node is the full definition for add-node; ConnectFrom/ConnectTo
	// optionally wire it in.
	Node        *Node  `json:"node,omitempty"`
	ConnectFrom string `json:"connectFrom,omitempty"`
	ConnectTo   string `json:"connectTo,omitempty"`

	// Edge fields for add-edge (Source/Target/SourceHandle) and
	// remove-edge (EdgeID, or the endpoint pair).
	EdgeID       string `json:"edgeId,omitempty"`
	Source       string `json:"source,omitempty"`
	Target       string `json:"target,omitempty"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// WorkflowEvolution is an agent-proposed batch of mutations plus the
// reasoning behind them.
type WorkflowEvolution struct {
	Reasoning      string     `json:"reasoning"`
	Mutations      []Mutation `json:"mutations"`
	ExpectedImpact string     `json:"expectedImpact"`
	RiskAssessment string     `json:"riskAssessment"`
}

// Snapshot is an immutable deep copy of a workflow at a point in time.
type Snapshot struct {
	Workflow   *Workflow `json:"workflow"`
	CapturedAt time.Time `json:"capturedAt"`
}

// EvolutionRecord is one line of a workflow's append-only evolution
// journal.
type EvolutionRecord struct {
	Timestamp        time.Time  `json:"timestamp"`
	WorkflowID       string     `json:"workflowId"`
	ExecutionID      string     `json:"executionId,omitempty"`
	SelfNodeID       string     `json:"selfNodeId,omitempty"`
	Mode             string     `json:"mode"`
	Mutations        []Mutation `json:"mutations"`
	BeforeSnapshot   *Snapshot  `json:"beforeSnapshot,omitempty"`
	AfterSnapshot    *Snapshot  `json:"afterSnapshot,omitempty"`
	Applied          bool       `json:"applied"`
	Reasoning        string     `json:"reasoning"`
	ExpectedImpact   string     `json:"expectedImpact"`
	RiskAssessment   string     `json:"riskAssessment"`
	ValidationErrors []string   `json:"validationErrors,omitempty"`
}

// decodeEvolution decodes an agent's JSON proposal, dropping non-object
// mutations and defaulting absent text fields to empty strings.
func decodeEvolution(doc json.RawMessage) (*WorkflowEvolution, error) {
	var raw struct {
		Reasoning      string `json:"reasoning"`
		Mutations      []any  `json:"mutations"`
		ExpectedImpact string `json:"expectedImpact"`
		RiskAssessment string `json:"riskAssessment"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, err
	}

	ev := &WorkflowEvolution{
		Reasoning:      raw.Reasoning,
		ExpectedImpact: raw.ExpectedImpact,
		RiskAssessment: raw.RiskAssessment,
	}
	for _, item := range raw.Mutations {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		data, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		var m Mutation
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		ev.Mutations = append(ev.Mutations, m)
	}
	return ev, nil
}
