package flow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Applier applies validated evolutions to stored workflows and journals
// every attempt.
type Applier struct {
	store       WorkflowStore
	historyRoot string
}

// NewApplier returns an applier persisting through store and journaling
// under historyRoot.
func NewApplier(store WorkflowStore, historyRoot string) *Applier {
	return &Applier{store: store, historyRoot: historyRoot}
}

// ApplyOptions identify the execution and node driving an application.
type ApplyOptions struct {
	ExecutionID string
	NodeID      string
	Mode        string
}

// Apply snapshots the workflow, applies the mutation batch to a deep
// copy, persists the result, and appends an EvolutionRecord to the
// workflow's journal. A failure at any step leaves the stored workflow
// and the journal untouched.
func (a *Applier) Apply(ctx context.Context, wf *Workflow, ev *WorkflowEvolution, opts ApplyOptions) (*Workflow, *EvolutionRecord, error) {
	before, err := snapshot(wf)
	if err != nil {
		return nil, nil, err
	}

	updated, err := ProjectEvolution(wf, ev)
	if err != nil {
		return nil, nil, err
	}

	if err := a.store.UpdateWorkflow(ctx, updated); err != nil {
		return nil, nil, err
	}

	after, err := snapshot(updated)
	if err != nil {
		return nil, nil, err
	}

	record := &EvolutionRecord{
		Timestamp:      time.Now(),
		WorkflowID:     wf.ID,
		ExecutionID:    opts.ExecutionID,
		SelfNodeID:     opts.NodeID,
		Mode:           opts.Mode,
		Mutations:      ev.Mutations,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Applied:        true,
		Reasoning:      ev.Reasoning,
		ExpectedImpact: ev.ExpectedImpact,
		RiskAssessment: ev.RiskAssessment,
	}
	if err := a.AppendRecord(record); err != nil {
		return nil, nil, err
	}

	return updated, record, nil
}

// ProjectEvolution applies the mutation batch to a deep copy of the
// workflow without persisting. Dry-run mode uses it to show the would-be
// result.
func ProjectEvolution(wf *Workflow, ev *WorkflowEvolution) (*Workflow, error) {
	working, err := wf.Clone()
	if err != nil {
		return nil, err
	}
	for i := range ev.Mutations {
		if err := applyMutation(working, &ev.Mutations[i]); err != nil {
			return nil, fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return working, nil
}

// AppendRecord appends one line to the workflow's history.jsonl, creating
// the directory on first use. The write is flushed before returning.
func (a *Applier) AppendRecord(record *EvolutionRecord) error {
	dir := filepath.Join(a.historyRoot, record.WorkflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "history.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return f.Sync()
}

// ReadEvolutionHistory returns the workflow's journal in append order. An
// absent journal reads as empty; blank lines are skipped.
func ReadEvolutionHistory(historyRoot, workflowID string) ([]EvolutionRecord, error) {
	f, err := os.Open(filepath.Join(historyRoot, workflowID, "history.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []EvolutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record EvolutionRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("parse history record: %w", err)
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}

func snapshot(wf *Workflow) (*Snapshot, error) {
	clone, err := wf.Clone()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Workflow: clone, CapturedAt: time.Now()}, nil
}

func applyMutation(wf *Workflow, m *Mutation) error {
	switch m.Op {
	case OpUpdateNodeConfig:
		node := wf.NodeByID(m.NodeID)
		if node == nil {
			return fmt.Errorf("node %q not found", m.NodeID)
		}
		return setConfigPath(node, m.Path, m.Value)

	case OpUpdatePrompt:
		node := wf.NodeByID(m.NodeID)
		if node == nil {
			return fmt.Errorf("node %q not found", m.NodeID)
		}
		field := m.Field
		if field == "" {
			field = "userQuery"
		}
		return setConfigPath(node, field, m.Value)

	case OpUpdateModel:
		node := wf.NodeByID(m.NodeID)
		if node == nil {
			return fmt.Errorf("node %q not found", m.NodeID)
		}
		return setConfigPath(node, "model", m.Value)

	case OpAddNode:
		if m.Node == nil {
			return fmt.Errorf("add-node requires a node definition")
		}
		wf.Nodes = append(wf.Nodes, *m.Node)
		if m.ConnectFrom != "" {
			wf.Edges = append(wf.Edges, Edge{ID: uuid.NewString(), Source: m.ConnectFrom, Target: m.Node.ID})
		}
		if m.ConnectTo != "" {
			wf.Edges = append(wf.Edges, Edge{ID: uuid.NewString(), Source: m.Node.ID, Target: m.ConnectTo})
		}
		return nil

	case OpRemoveNode:
		nodes := wf.Nodes[:0]
		found := false
		for _, n := range wf.Nodes {
			if n.ID == m.NodeID {
				found = true
				continue
			}
			nodes = append(nodes, n)
		}
		if !found {
			return fmt.Errorf("node %q not found", m.NodeID)
		}
		wf.Nodes = nodes
		// Cascade: drop every edge incident to the removed node.
		edges := wf.Edges[:0]
		for _, e := range wf.Edges {
			if e.Source != m.NodeID && e.Target != m.NodeID {
				edges = append(edges, e)
			}
		}
		wf.Edges = edges
		return nil

	case OpAddEdge:
		for _, e := range wf.Edges {
			if e.Source == m.Source && e.Target == m.Target && e.SourceHandle == m.SourceHandle {
				return &EdgeConflictError{Source: m.Source, Target: m.Target, SourceHandle: m.SourceHandle}
			}
		}
		id := m.EdgeID
		if id == "" {
			id = uuid.NewString()
		}
		wf.Edges = append(wf.Edges, Edge{ID: id, Source: m.Source, Target: m.Target, SourceHandle: m.SourceHandle})
		return nil

	case OpRemoveEdge:
		edges := wf.Edges[:0]
		found := false
		for _, e := range wf.Edges {
			match := (m.EdgeID != "" && e.ID == m.EdgeID) ||
				(m.EdgeID == "" && e.Source == m.Source && e.Target == m.Target)
			if match {
				found = true
				continue
			}
			edges = append(edges, e)
		}
		if !found {
			return fmt.Errorf("edge not found")
		}
		wf.Edges = edges
		return nil

	case OpUpdateWorkflowSetting:
		value, ok := m.Value.(string)
		if !ok {
			return fmt.Errorf("workflow setting %q must be a string", m.Field)
		}
		switch m.Field {
		case "name":
			wf.Name = value
		case "description":
			wf.Description = value
		case "workingDirectory":
			wf.WorkingDirectory = value
		default:
			return fmt.Errorf("unknown workflow setting %q", m.Field)
		}
		return nil
	}
	return fmt.Errorf("unknown op %q", m.Op)
}

// setConfigPath walks a dotted path into the node's config, creating
// missing intermediate objects. The prototype-pollution check repeats here
// even though validation already ran.
func setConfigPath(node *Node, path string, value any) error {
	if pollutedPath(path) {
		return fmt.Errorf("path %q is not allowed", path)
	}
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return fmt.Errorf("empty config path")
	}

	if node.Config == nil {
		node.Config = make(map[string]any)
	}

	var current any = node.Config
	for i, seg := range segments {
		last := i == len(segments)-1

		switch container := current.(type) {
		case map[string]any:
			if last {
				container[seg] = value
				return nil
			}
			next, ok := container[seg]
			if !ok || next == nil {
				child := make(map[string]any)
				container[seg] = child
				current = child
				continue
			}
			current = next

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return fmt.Errorf("invalid array index %q in path %q", seg, path)
			}
			if last {
				container[idx] = value
				return nil
			}
			current = container[idx]

		default:
			return fmt.Errorf("path %q descends into a non-container value", path)
		}
	}
	return nil
}

// WorkflowDiff summarizes the structural difference between two workflow
// snapshots.
type WorkflowDiff struct {
	AddedNodes   []string `json:"addedNodes"`
	RemovedNodes []string `json:"removedNodes"`
	ChangedNodes []string `json:"changedNodes"`
	AddedEdges   []string `json:"addedEdges"`
	RemovedEdges []string `json:"removedEdges"`
}

// DescribeWorkflowDiff compares two workflows by node and edge identity.
// Changed nodes are those whose configuration, name, or type differ.
func DescribeWorkflowDiff(before, after *Workflow) *WorkflowDiff {
	diff := &WorkflowDiff{}

	beforeNodes := make(map[string]*Node, len(before.Nodes))
	for i := range before.Nodes {
		beforeNodes[before.Nodes[i].ID] = &before.Nodes[i]
	}
	afterNodes := make(map[string]*Node, len(after.Nodes))
	for i := range after.Nodes {
		afterNodes[after.Nodes[i].ID] = &after.Nodes[i]
	}

	for id, n := range afterNodes {
		prev, ok := beforeNodes[id]
		if !ok {
			diff.AddedNodes = append(diff.AddedNodes, id)
			continue
		}
		if prev.Name != n.Name || prev.Type != n.Type || string(prev.ConfigBytes()) != string(n.ConfigBytes()) {
			diff.ChangedNodes = append(diff.ChangedNodes, id)
		}
	}
	for id := range beforeNodes {
		if _, ok := afterNodes[id]; !ok {
			diff.RemovedNodes = append(diff.RemovedNodes, id)
		}
	}

	edgeKey := func(e Edge) string { return e.Source + "->" + e.Target + "#" + e.SourceHandle }
	beforeEdges := make(map[string]bool, len(before.Edges))
	for _, e := range before.Edges {
		beforeEdges[edgeKey(e)] = true
	}
	afterEdges := make(map[string]bool, len(after.Edges))
	for _, e := range after.Edges {
		afterEdges[edgeKey(e)] = true
	}
	for key := range afterEdges {
		if !beforeEdges[key] {
			diff.AddedEdges = append(diff.AddedEdges, key)
		}
	}
	for key := range beforeEdges {
		if !afterEdges[key] {
			diff.RemovedEdges = append(diff.RemovedEdges, key)
		}
	}

	return diff
}
