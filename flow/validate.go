package flow

import "fmt"

// validateWorkflow runs static validation: structural graph checks plus
// each node type's schema and executor validation. All findings are
// collected; the caller reports them together.
func validateWorkflow(wf *Workflow, reg *Registry, schemas *SchemaRegistry) []ValidationIssue {
	var issues []ValidationIssue
	add := func(code, message, nodeID string) {
		issues = append(issues, ValidationIssue{Code: code, Message: message, NodeID: nodeID})
	}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	names := make(map[string]string, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		nodeIDs[n.ID] = true
		if prev, dup := names[n.Name]; dup {
			add(CodeDuplicateName, fmt.Sprintf("node name %q used by %s and %s", n.Name, prev, n.ID), n.ID)
		} else {
			names[n.Name] = n.ID
		}
	}

	for _, e := range wf.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			add(CodeBadEdge, fmt.Sprintf("edge %s references a missing node", e.ID), "")
			continue
		}
		if e.Source == e.Target {
			add(CodeSelfLoop, fmt.Sprintf("edge %s is a self-loop on node %s", e.ID, e.Source), e.Source)
		}
	}

	// Rejection-feedback edges are the one sanctioned loop; they are cut
	// out before the structural checks.
	fwd := forwardEdges(wf.Nodes, wf.Edges)

	if hit := findCycle(wf.Nodes, fwd); hit != "" {
		add(CodeCycle, "workflow graph contains a cycle", hit)
	}

	inputs := wf.NodesOfType(NodeInput)
	switch len(inputs) {
	case 0:
		add(CodeNoInput, "workflow has no input node", "")
	case 1:
	default:
		add(CodeMultipleInputs, fmt.Sprintf("workflow has %d input nodes; exactly one is allowed", len(inputs)), "")
	}

	outputs := wf.NodesOfType(NodeOutput)
	if len(outputs) == 0 {
		add(CodeNoOutput, "workflow has no output node", "")
	}

	idx := buildGraphIndex(wf.Nodes, fwd)

	if len(inputs) == 1 && len(outputs) > 0 {
		reachable := idx.descendants[inputs[0]]
		anyReachable := false
		for _, out := range outputs {
			if reachable[out] {
				anyReachable = true
				break
			}
		}
		if !anyReachable {
			add(CodeOutputUnreachable, "no output node is reachable from the input node", "")
		}
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.Type != NodeInput && len(idx.predecessors[n.ID]) == 0 {
			add(CodeOrphanedNode, fmt.Sprintf("node %q has no incoming edge", n.Name), n.ID)
		}
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		ex, err := reg.Lookup(n.Type)
		if err != nil {
			add(CodeUnknownType, fmt.Sprintf("node %q: %v", n.Name, err), n.ID)
			continue
		}
		if schemas != nil {
			if err := schemas.Validate(n.Type, n.Config); err != nil {
				add(CodeNodeConfig, fmt.Sprintf("node %q: %v", n.Name, err), n.ID)
				continue
			}
		}
		if err := ex.Validate(n); err != nil {
			add(CodeNodeConfig, fmt.Sprintf("node %q: %v", n.Name, err), n.ID)
		}
	}

	return issues
}
