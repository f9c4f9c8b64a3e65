// Package flow provides the workflow execution engine: the DAG scheduler,
// node executors, approval rendezvous, replay planning, and the
// self-modification (evolution) safeguards.
package flow

import "encoding/json"

// NodeType tags the closed set of node kinds the engine executes.
type NodeType string

const (
	NodeInput       NodeType = "input"
	NodeOutput      NodeType = "output"
	NodeClaudeAgent NodeType = "claude-agent"
	NodeCodexAgent  NodeType = "codex-agent"
	NodeCondition   NodeType = "condition"
	NodeMerge       NodeType = "merge"
	NodeJavaScript  NodeType = "javascript"
	NodeApproval    NodeType = "approval"
	NodeSelfReflect NodeType = "self-reflect"
)

// IsAgent reports whether the type is executed by an external agent runner.
func (t NodeType) IsAgent() bool {
	return t == NodeClaudeAgent || t == NodeCodexAgent
}

// Position is the node's canvas location. It exists for UI round-tripping
// and is opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex of a workflow graph.
//
// Config is the typed configuration bag; its recognized keys depend on
// Type and are validated by the node's executor and by the per-type schema
// in the schema registry.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Name     string         `json:"name"`
	Position Position       `json:"position"`
	Config   map[string]any `json:"data,omitempty"`
}

// ConfigBytes returns the canonical JSON encoding of the node's config,
// used for byte-equality comparison during replay planning.
func (n *Node) ConfigBytes() []byte {
	if len(n.Config) == 0 {
		return []byte("{}")
	}
	// Marshal of map[string]any sorts keys, so equal configs encode
	// equally.
	b, err := json.Marshal(n.Config)
	if err != nil {
		return nil
	}
	return b
}

// Edge carries data from Source to Target.
//
// When SourceHandle is set, the edge only activates if the source node
// nominates that handle on completion; an empty SourceHandle matches every
// handle.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Workflow is a user-defined agent workflow: a DAG of typed nodes. The
// value is owned by the caller and treated as immutable for the duration
// of one execution.
type Workflow struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Nodes            []Node `json:"nodes"`
	Edges            []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// NodeByName returns the node with the given name, or nil.
func (w *Workflow) NodeByName(name string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i]
		}
	}
	return nil
}

// NodesOfType returns the ids of all nodes with the given type, in
// workflow order.
func (w *Workflow) NodesOfType(t NodeType) []string {
	var out []string
	for i := range w.Nodes {
		if w.Nodes[i].Type == t {
			out = append(out, w.Nodes[i].ID)
		}
	}
	return out
}

// Clone returns a deep copy of the workflow via JSON round-trip. Evolution
// mutations are always applied to a clone so a failed batch can never
// leave the caller's value half-mutated.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var out Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// graphIndex precomputes adjacency and reachability for one workflow.
// The engine, the replay planner and the evolution validator all consult
// it; it is built once per operation and never mutated afterwards.
type graphIndex struct {
	predecessors map[string][]string // target -> source ids
	successors   map[string][]string // source -> target ids
	ancestors    map[string]map[string]bool
	descendants  map[string]map[string]bool
}

func buildGraphIndex(nodes []Node, edges []Edge) *graphIndex {
	idx := &graphIndex{
		predecessors: make(map[string][]string, len(nodes)),
		successors:   make(map[string][]string, len(nodes)),
		ancestors:    make(map[string]map[string]bool, len(nodes)),
		descendants:  make(map[string]map[string]bool, len(nodes)),
	}

	for _, e := range edges {
		idx.predecessors[e.Target] = append(idx.predecessors[e.Target], e.Source)
		idx.successors[e.Source] = append(idx.successors[e.Source], e.Target)
	}

	for i := range nodes {
		id := nodes[i].ID
		idx.descendants[id] = reach(id, idx.successors)
		idx.ancestors[id] = reach(id, idx.predecessors)
	}
	return idx
}

// reach computes the transitive closure from start along the given
// adjacency, excluding start itself. Cycles (which validation rejects, but
// projected evolution graphs may contain) terminate via the seen set.
func reach(start string, adjacency map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), adjacency[start]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adjacency[id]...)
	}
	delete(seen, start)
	return seen
}

// feedbackEdgeMask classifies each edge, aligned by index: true marks a
// rejection-feedback edge, false a forward edge. A feedback edge leaves an
// approval node on its rejected handle (or no handle) and targets an
// ancestor of that approval, with ancestry computed over the graph minus
// every rejected-handle approval edge. Feedback edges drive the engine's
// rejection loop and take no part in acyclicity, reachability, or
// readiness.
func feedbackEdgeMask(nodes []Node, edges []Edge) []bool {
	mask := make([]bool, len(edges))

	approvals := make(map[string]bool)
	for i := range nodes {
		if nodes[i].Type == NodeApproval {
			approvals[nodes[i].ID] = true
		}
	}
	if len(approvals) == 0 {
		return mask
	}

	candidate := make([]bool, len(edges))
	succ := make(map[string][]string, len(nodes))
	for i, e := range edges {
		if approvals[e.Source] && (e.SourceHandle == "" || e.SourceHandle == "rejected") {
			candidate[i] = true
			continue
		}
		succ[e.Source] = append(succ[e.Source], e.Target)
	}

	for i, e := range edges {
		if candidate[i] && reach(e.Target, succ)[e.Source] {
			mask[i] = true
		}
	}
	return mask
}

// forwardEdges returns the edges with rejection-feedback edges removed.
// Cycle detection, graph indexing, and topological ordering all run on the
// forward graph; only the rejection loop consults the feedback edges.
func forwardEdges(nodes []Node, edges []Edge) []Edge {
	mask := feedbackEdgeMask(nodes, edges)
	out := make([]Edge, 0, len(edges))
	for i, e := range edges {
		if !mask[i] {
			out = append(out, e)
		}
	}
	return out
}

// findCycle runs a DFS over the given graph and returns a node id on a
// cycle, or empty when the graph is acyclic.
func findCycle(nodes []Node, edges []Edge) string {
	succ := make(map[string][]string, len(nodes))
	for _, e := range edges {
		succ[e.Source] = append(succ[e.Source], e.Target)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, next := range succ[id] {
			switch color[next] {
			case gray:
				return next
			case white:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for i := range nodes {
		if color[nodes[i].ID] == white {
			if hit := visit(nodes[i].ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}
