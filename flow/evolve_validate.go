package flow

import (
	"fmt"
	"strings"
)

// EvolutionOptions constrain evolution validation.
type EvolutionOptions struct {
	// Scope, when non-empty, is the set of mutation scopes the proposing
	// node is allowed to touch.
	Scope []string

	// MaxMutations caps the batch size. Zero means the default of 10.
	MaxMutations int

	// SelfNodeID identifies the proposing self-reflect node; mutations
	// touching it or its incident edges are rejected.
	SelfNodeID string
}

const defaultMaxMutations = 10

// EvolutionValidation is the outcome of validating a proposed evolution.
type EvolutionValidation struct {
	Valid     bool
	Errors    []string
	Sanitized *WorkflowEvolution
}

// ValidateEvolution checks every mutation of the proposal against schema,
// scope, cycle, and self-protection rules. Errors are collected across
// the whole batch rather than short-circuiting, so the caller can report
// everything at once. Mutations are checked against a projected graph that
// accumulates earlier mutations, so a batch may add a node and then wire
// an edge to it.
func ValidateEvolution(wf *Workflow, ev *WorkflowEvolution, schemas *SchemaRegistry, opts EvolutionOptions) *EvolutionValidation {
	maxMutations := opts.MaxMutations
	if maxMutations <= 0 {
		maxMutations = defaultMaxMutations
	}

	v := &evolutionChecker{
		schemas:    schemas,
		opts:       opts,
		selfNodeID: opts.SelfNodeID,
	}
	v.nodes = append(v.nodes, wf.Nodes...)
	v.edges = append(v.edges, wf.Edges...)

	sanitized := &WorkflowEvolution{
		Reasoning:      ev.Reasoning,
		Mutations:      ev.Mutations,
		ExpectedImpact: ev.ExpectedImpact,
		RiskAssessment: ev.RiskAssessment,
	}

	if len(ev.Mutations) > maxMutations {
		v.errorf("mutation count %d exceeds limit %d", len(ev.Mutations), maxMutations)
	}

	for i := range ev.Mutations {
		v.checkMutation(i, &ev.Mutations[i])
	}

	if hit := findCycle(v.nodes, forwardEdges(v.nodes, v.edges)); hit != "" {
		v.errorf("%v", &CycleIntroducedError{NodeID: hit})
	}

	return &EvolutionValidation{
		Valid:     len(v.errors) == 0,
		Errors:    v.errors,
		Sanitized: sanitized,
	}
}

// evolutionChecker accumulates errors while maintaining the projected
// graph the mutations describe.
type evolutionChecker struct {
	schemas    *SchemaRegistry
	opts       EvolutionOptions
	selfNodeID string

	nodes  []Node
	edges  []Edge
	errors []string
}

func (v *evolutionChecker) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *evolutionChecker) nodeByID(id string) *Node {
	for i := range v.nodes {
		if v.nodes[i].ID == id {
			return &v.nodes[i]
		}
	}
	return nil
}

func (v *evolutionChecker) checkScope(i int, scope string) {
	if len(v.opts.Scope) == 0 {
		return
	}
	for _, s := range v.opts.Scope {
		if s == scope {
			return
		}
	}
	v.errorf("mutation %d: scope %q is not permitted", i, scope)
}

func (v *evolutionChecker) checkMutation(i int, m *Mutation) {
	switch m.Op {
	case OpUpdateNodeConfig:
		v.checkUpdateNodeConfig(i, m)
	case OpUpdatePrompt:
		v.checkUpdatePrompt(i, m)
	case OpUpdateModel:
		v.checkUpdateModel(i, m)
	case OpAddNode:
		v.checkAddNode(i, m)
	case OpRemoveNode:
		v.checkRemoveNode(i, m)
	case OpAddEdge:
		v.checkAddEdge(i, m)
	case OpRemoveEdge:
		v.checkRemoveEdge(i, m)
	case OpUpdateWorkflowSetting:
		v.checkUpdateWorkflowSetting(i, m)
	default:
		v.errorf("mutation %d: unknown op %q", i, m.Op)
	}
}

func (v *evolutionChecker) checkUpdateNodeConfig(i int, m *Mutation) {
	if v.selfProtected(i, m.NodeID, "modify") {
		return
	}
	node := v.nodeByID(m.NodeID)
	if node == nil {
		v.errorf("mutation %d: node %q not found", i, m.NodeID)
		return
	}
	if pollutedPath(m.Path) {
		v.errorf("mutation %d: path %q is not allowed", i, m.Path)
		return
	}
	if !v.schemas.HasPath(node.Type, m.Path) {
		v.errorf("mutation %d: node %q has no config path %q", i, m.NodeID, m.Path)
		return
	}
	if typ, ok := v.schemas.TypeAt(node.Type, m.Path); ok && !matchesJSONType(m.Value, typ) {
		v.errorf("mutation %d: value for %q must be of type %s", i, m.Path, typ)
		return
	}
	v.checkScope(i, configPathScope(m.Path))
}

func (v *evolutionChecker) checkUpdatePrompt(i int, m *Mutation) {
	if v.selfProtected(i, m.NodeID, "modify") {
		return
	}
	node := v.nodeByID(m.NodeID)
	if node == nil {
		v.errorf("mutation %d: node %q not found", i, m.NodeID)
		return
	}
	if !node.Type.IsAgent() {
		v.errorf("mutation %d: node %q is not an agent node", i, m.NodeID)
		return
	}
	field := m.Field
	if field == "" {
		field = "userQuery"
	}
	if !v.schemas.HasPath(node.Type, field) {
		v.errorf("mutation %d: node %q has no field %q", i, m.NodeID, field)
		return
	}
	v.checkScope(i, ScopePrompts)
}

func (v *evolutionChecker) checkUpdateModel(i int, m *Mutation) {
	if v.selfProtected(i, m.NodeID, "modify") {
		return
	}
	node := v.nodeByID(m.NodeID)
	if node == nil {
		v.errorf("mutation %d: node %q not found", i, m.NodeID)
		return
	}
	if !v.schemas.HasProperty(node.Type, "model") {
		v.errorf("mutation %d: node %q does not declare a model", i, m.NodeID)
		return
	}
	v.checkScope(i, ScopeModels)
}

func (v *evolutionChecker) checkAddNode(i int, m *Mutation) {
	if m.Node == nil {
		v.errorf("mutation %d: add-node requires a node definition", i)
		return
	}
	n := m.Node
	if _, ok := v.schemas.Doc(n.Type); !ok {
		v.errorf("mutation %d: unknown node type %q", i, n.Type)
		return
	}
	if n.ID == "" || v.nodeByID(n.ID) != nil {
		v.errorf("mutation %d: node id %q is missing or already in use", i, n.ID)
		return
	}
	for j := range v.nodes {
		if v.nodes[j].Name == n.Name {
			v.errorf("mutation %d: node name %q is already in use", i, n.Name)
			return
		}
	}
	for _, field := range v.schemas.RequiredFields(n.Type) {
		if _, ok := n.Config[field]; !ok {
			v.errorf("mutation %d: node config is missing required field %q", i, field)
			return
		}
	}
	if m.ConnectFrom != "" && v.nodeByID(m.ConnectFrom) == nil {
		v.errorf("mutation %d: connectFrom node %q not found", i, m.ConnectFrom)
		return
	}
	if m.ConnectTo != "" && v.nodeByID(m.ConnectTo) == nil {
		v.errorf("mutation %d: connectTo node %q not found", i, m.ConnectTo)
		return
	}
	if v.selfNodeID != "" && (m.ConnectFrom == v.selfNodeID || m.ConnectTo == v.selfNodeID) {
		v.errorf("mutation %d: Cannot modify the self-reflect node", i)
		return
	}
	v.checkScope(i, ScopeNodes)

	v.nodes = append(v.nodes, *n)
	if m.ConnectFrom != "" {
		v.edges = append(v.edges, Edge{Source: m.ConnectFrom, Target: n.ID})
	}
	if m.ConnectTo != "" {
		v.edges = append(v.edges, Edge{Source: n.ID, Target: m.ConnectTo})
	}
}

func (v *evolutionChecker) checkRemoveNode(i int, m *Mutation) {
	if v.selfNodeID != "" && m.NodeID == v.selfNodeID {
		v.errorf("mutation %d: Cannot remove the self-reflect node", i)
		return
	}
	node := v.nodeByID(m.NodeID)
	if node == nil {
		v.errorf("mutation %d: node %q not found", i, m.NodeID)
		return
	}
	if node.Type == NodeInput || node.Type == NodeOutput {
		v.errorf("mutation %d: cannot remove %s node %q", i, node.Type, m.NodeID)
		return
	}
	if v.selfNodeID != "" {
		for _, e := range v.edges {
			if e.Source == m.NodeID && e.Target == v.selfNodeID {
				v.errorf("mutation %d: Cannot modify the self-reflect node", i)
				return
			}
		}
	}
	v.checkScope(i, ScopeNodes)

	nodes := v.nodes[:0]
	for _, n := range v.nodes {
		if n.ID != m.NodeID {
			nodes = append(nodes, n)
		}
	}
	v.nodes = nodes
	edges := v.edges[:0]
	for _, e := range v.edges {
		if e.Source != m.NodeID && e.Target != m.NodeID {
			edges = append(edges, e)
		}
	}
	v.edges = edges
}

func (v *evolutionChecker) checkAddEdge(i int, m *Mutation) {
	if v.nodeByID(m.Source) == nil || v.nodeByID(m.Target) == nil {
		v.errorf("mutation %d: edge endpoints %q -> %q must both exist", i, m.Source, m.Target)
		return
	}
	if v.selfNodeID != "" && (m.Source == v.selfNodeID || m.Target == v.selfNodeID) {
		v.errorf("mutation %d: Cannot modify the self-reflect node", i)
		return
	}
	for _, e := range v.edges {
		if e.Source == m.Source && e.Target == m.Target && e.SourceHandle == m.SourceHandle {
			v.errorf("mutation %d: %v", i, &EdgeConflictError{Source: m.Source, Target: m.Target, SourceHandle: m.SourceHandle})
			return
		}
	}
	v.checkScope(i, ScopeEdges)

	v.edges = append(v.edges, Edge{ID: m.EdgeID, Source: m.Source, Target: m.Target, SourceHandle: m.SourceHandle})
}

func (v *evolutionChecker) checkRemoveEdge(i int, m *Mutation) {
	idx := -1
	for j, e := range v.edges {
		if (m.EdgeID != "" && e.ID == m.EdgeID) ||
			(m.EdgeID == "" && e.Source == m.Source && e.Target == m.Target) {
			idx = j
			break
		}
	}
	if idx < 0 {
		v.errorf("mutation %d: edge not found", i)
		return
	}
	e := v.edges[idx]
	if v.selfNodeID != "" && (e.Source == v.selfNodeID || e.Target == v.selfNodeID) {
		v.errorf("mutation %d: Cannot modify the self-reflect node", i)
		return
	}
	v.checkScope(i, ScopeEdges)

	v.edges = append(v.edges[:idx], v.edges[idx+1:]...)
}

func (v *evolutionChecker) checkUpdateWorkflowSetting(i int, m *Mutation) {
	switch m.Field {
	case "name", "description", "workingDirectory":
	default:
		v.errorf("mutation %d: unknown workflow setting %q", i, m.Field)
		return
	}
	if _, ok := m.Value.(string); !ok {
		v.errorf("mutation %d: workflow setting %q must be a string", i, m.Field)
		return
	}
	v.checkScope(i, ScopeParameters)
}

// selfProtected reports (and records) an attempt to touch the proposing
// self-reflect node.
func (v *evolutionChecker) selfProtected(i int, nodeID, verb string) bool {
	if v.selfNodeID == "" || nodeID != v.selfNodeID {
		return false
	}
	v.errorf("mutation %d: Cannot %s the self-reflect node", i, verb)
	return true
}

// configPathScope infers the mutation scope from an update-node-config
// path.
func configPathScope(path string) string {
	switch {
	case strings.HasPrefix(path, "userQuery"), strings.HasPrefix(path, "systemPrompt"):
		return ScopePrompts
	case strings.HasPrefix(path, "model"):
		return ScopeModels
	case strings.HasPrefix(path, "tools"):
		return ScopeTools
	default:
		return ScopeParameters
	}
}

// pollutedPath rejects prototype-pollution path segments. The same check
// runs again in the applier.
func pollutedPath(path string) bool {
	for _, seg := range strings.Split(path, ".") {
		switch seg {
		case "__proto__", "prototype", "constructor":
			return true
		}
	}
	return false
}
