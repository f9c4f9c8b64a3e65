package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smogili1/agentflow/flow/emit"
	"github.com/smogili1/agentflow/flow/runner"
)

// Engine drives workflow executions. One engine serves many concurrent
// executions; each execution owns its context and event bus, sharing only
// the approval registry and the store.
//
// Example:
//
//	engine, err := flow.NewEngine(
//		flow.WithStore(store.NewMemory()),
//		flow.WithRunner(runner.KindClaude, anthropic.New(apiKey)),
//	)
//	exec, err := engine.Start(ctx, wf, "hello", recorder)
//	result, err := exec.Wait(ctx)
type Engine struct {
	cfg engineConfig

	mu         sync.Mutex
	executions map[string]*Execution
}

// NewEngine builds an engine from functional options.
func NewEngine(opts ...Option) (*Engine, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	cfg := engineConfig{
		registry:         DefaultRegistry(),
		schemas:          schemas,
		approvals:        NewApprovalRegistry(),
		runners:          make(map[string]runner.Runner),
		historyRoot:      "evolution-history",
		subscriberBuffer: emit.DefaultSubscriberBuffer,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{
		cfg:        cfg,
		executions: make(map[string]*Execution),
	}, nil
}

// Approvals exposes the engine's approval registry.
func (e *Engine) Approvals() *ApprovalRegistry { return e.cfg.approvals }

// SubmitApproval delivers a human decision to a waiting approval node.
// It returns false when no matching approval is pending.
func (e *Engine) SubmitApproval(executionID, nodeID string, resp ApprovalResponse) bool {
	return e.cfg.approvals.Submit(executionID, nodeID, resp)
}

// CancelApproval rejects a single pending approval.
func (e *Engine) CancelApproval(executionID, nodeID string) bool {
	return e.cfg.approvals.Cancel(executionID, nodeID)
}

// Interrupt cancels a running execution by id.
func (e *Engine) Interrupt(executionID string) error {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return ErrExecutionNotFound
	}
	exec.Interrupt()
	return nil
}

// Execution returns a live or finished execution by id.
func (e *Engine) Execution(executionID string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	return exec, ok
}

// Execute runs the workflow to completion and returns the final result.
// It is Start followed by Wait.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, input any, sinks ...emit.Sink) (any, error) {
	exec, err := e.Start(ctx, wf, input, sinks...)
	if err != nil {
		return nil, err
	}
	return exec.Wait(ctx)
}

// Start validates the workflow and launches an asynchronous execution.
// The given sinks are attached before the first event so they observe the
// complete stream; Execution.Subscribe can add live subscribers later.
//
// A validation failure emits a single validation-error event to the sinks
// and returns a *ValidationError; no execution is started.
func (e *Engine) Start(ctx context.Context, wf *Workflow, input any, sinks ...emit.Sink) (*Execution, error) {
	executionID := uuid.NewString()
	ec := NewExecutionContext(executionID, wf, input, "")
	return e.start(ctx, wf, ec, sinks)
}

func (e *Engine) start(ctx context.Context, wf *Workflow, ec *ExecutionContext, sinks []emit.Sink) (*Execution, error) {
	bus := emit.NewBus()

	allSinks := append(append([]emit.Sink(nil), e.cfg.sinks...), sinks...)
	waits := make([]func(), 0, len(allSinks))
	for _, sink := range allSinks {
		waits = append(waits, emit.Forward(bus.Subscribe(e.cfg.subscriberBuffer), sink))
	}
	drain := func() {
		bus.Close()
		for _, wait := range waits {
			wait()
		}
	}

	if issues := validateWorkflow(wf, e.cfg.registry, e.cfg.schemas); len(issues) > 0 {
		verr := &ValidationError{Issues: issues}
		busIssues := make([]emit.ValidationIssue, len(issues))
		for i, issue := range issues {
			busIssues[i] = emit.ValidationIssue(issue)
		}
		bus.Publish(emit.Event{
			Type:        emit.EventValidationError,
			ExecutionID: ec.ExecutionID(),
			WorkflowID:  wf.ID,
			Err:         verr.Error(),
			Issues:      busIssues,
		})
		e.cfg.metrics.eventPublished(string(emit.EventValidationError))
		drain()
		return nil, verr
	}

	runCtx, cancel := context.WithCancel(ctx)
	exec := &Execution{
		id:     ec.ExecutionID(),
		engine: e,
		wf:     wf,
		ec:     ec,
		bus:    bus,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.executions[exec.id] = exec
	e.mu.Unlock()

	go func() {
		// Drain completes before done closes so Wait callers observe fully
		// delivered sinks.
		defer close(exec.done)
		defer drain()
		s := newScheduler(exec, runCtx)
		result, err := s.run()
		exec.result = result
		exec.err = err
	}()

	return exec, nil
}

// Execution is one run of a workflow.
type Execution struct {
	id     string
	engine *Engine
	wf     *Workflow
	ec     *ExecutionContext
	bus    *emit.Bus
	cancel context.CancelFunc

	interrupted atomic.Bool
	intOnce     sync.Once

	done   chan struct{}
	result any
	err    error
}

// ID returns the execution's unique id.
func (x *Execution) ID() string { return x.id }

// Subscribe attaches a live subscriber to the execution's event stream.
// Events emitted before subscription are not replayed; attach a sink via
// Start for full capture.
func (x *Execution) Subscribe() *emit.Subscription {
	return x.bus.Subscribe(x.engine.cfg.subscriberBuffer)
}

// NodeState reports a node's current run state.
func (x *Execution) NodeState(nodeID string) NodeRunState {
	return x.ec.NodeState(nodeID)
}

// Interrupt cancels the execution cooperatively: the cancellation token
// fires, every pending approval of this execution is rejected, and the
// engine emits a single execution-error once all executors quiesce.
// Interrupt is idempotent; calling it after completion is a no-op.
func (x *Execution) Interrupt() {
	x.intOnce.Do(func() {
		x.interrupted.Store(true)
		x.cancel()
		x.engine.cfg.approvals.CancelAll(x.id)
	})
}

// Wait blocks until the execution reaches a terminal state or ctx ends.
func (x *Execution) Wait(ctx context.Context) (any, error) {
	select {
	case <-x.done:
		return x.result, x.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the execution reaches a terminal state.
func (x *Execution) Done() <-chan struct{} { return x.done }

// nodeDone is an executor's completion report, serialized through the
// scheduler's single channel.
type nodeDone struct {
	nodeID  string
	res     *ExecResult
	err     error
	started time.Time
}

// scheduler owns one execution's scheduling state. It is single-threaded:
// executors run concurrently but every state transition happens on the
// scheduler goroutine, fed by the done channel.
type scheduler struct {
	exec *Execution
	wf   *Workflow
	ec   *ExecutionContext
	cfg  *engineConfig
	ctx  context.Context

	idx      *graphIndex // forward graph only
	topo     map[string]int
	active   []bool // aligned with wf.Edges
	feedback []bool // aligned with wf.Edges; marks rejection-feedback edges
	inFlight map[string]bool
	waited   map[string]bool // approval nodes that emitted node-waiting
	doneCh   chan nodeDone
}

func newScheduler(exec *Execution, ctx context.Context) *scheduler {
	wf := exec.wf
	fwd := forwardEdges(wf.Nodes, wf.Edges)
	s := &scheduler{
		exec:     exec,
		wf:       wf,
		ec:       exec.ec,
		cfg:      &exec.engine.cfg,
		ctx:      ctx,
		idx:      buildGraphIndex(wf.Nodes, fwd),
		active:   make([]bool, len(wf.Edges)),
		feedback: feedbackEdgeMask(wf.Nodes, wf.Edges),
		inFlight: make(map[string]bool),
		waited:   make(map[string]bool),
		doneCh:   make(chan nodeDone, len(wf.Nodes)),
	}
	for i := range s.active {
		s.active[i] = true
	}
	s.topo = topoOrder(wf.Nodes, fwd)
	return s
}

func (s *scheduler) publish(ev emit.Event) {
	ev.ExecutionID = s.exec.id
	s.exec.bus.Publish(ev)
	s.cfg.metrics.eventPublished(string(ev.Type))
}

func (s *scheduler) run() (any, error) {
	startedAt := time.Now()
	s.publish(emit.Event{Type: emit.EventExecutionStart, WorkflowID: s.wf.ID})
	s.saveSummary(ExecutionRunning, startedAt, nil, nil)

	var abortErr error

	for {
		if abortErr == nil && !s.exec.interrupted.Load() {
			for _, id := range s.settleFrontier() {
				if s.cfg.maxConcurrent > 0 && len(s.inFlight) >= s.cfg.maxConcurrent {
					break
				}
				s.dispatch(id)
			}
		}

		if len(s.inFlight) == 0 {
			if abortErr != nil || s.exec.interrupted.Load() || !s.anyPending() {
				break
			}
			// Pending nodes with no runnable ancestor mean the frontier is
			// wedged; validation should make this unreachable.
			abortErr = fmt.Errorf("scheduler stalled with pending nodes")
			break
		}

		d := <-s.doneCh
		s.handleDone(d, &abortErr)
	}

	switch {
	case s.exec.interrupted.Load():
		err := &ExecutionError{ExecutionID: s.exec.id, Cause: ErrCancelled}
		s.publish(emit.Event{Type: emit.EventExecutionError, WorkflowID: s.wf.ID, Err: ErrCancelled.Error()})
		s.cfg.metrics.executionFinished(ExecutionInterrupted)
		s.saveSummary(ExecutionInterrupted, startedAt, nil, ErrCancelled)
		return nil, err

	case abortErr != nil:
		err := &ExecutionError{ExecutionID: s.exec.id, Cause: abortErr}
		s.publish(emit.Event{Type: emit.EventExecutionError, WorkflowID: s.wf.ID, Err: abortErr.Error()})
		s.cfg.metrics.executionFinished(ExecutionFailed)
		s.saveSummary(ExecutionFailed, startedAt, nil, abortErr)
		return nil, err

	default:
		result := s.finalResult()
		s.publish(emit.Event{Type: emit.EventExecutionComplete, WorkflowID: s.wf.ID, Result: result})
		s.cfg.metrics.executionFinished(ExecutionComplete)
		s.saveSummary(ExecutionComplete, startedAt, result, nil)
		return result, nil
	}
}

// settleFrontier derives skips to a fixpoint and returns the ready nodes
// in deterministic order (topological index, then id).
func (s *scheduler) settleFrontier() []string {
	var ready []string
	for {
		changed := false
		ready = ready[:0]
		for i := range s.wf.Nodes {
			n := &s.wf.Nodes[i]
			if s.ec.NodeState(n.ID).Status != StatusPending {
				continue
			}
			isReady, skip := s.evaluate(n)
			if skip {
				s.ec.setStatus(n.ID, StatusSkipped)
				changed = true
				continue
			}
			if isReady {
				ready = append(ready, n.ID)
			}
		}
		if !changed {
			break
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		ti, tj := s.topo[ready[i]], s.topo[ready[j]]
		if ti != tj {
			return ti < tj
		}
		return ready[i] < ready[j]
	})
	return ready
}

// evaluate decides whether a pending node is ready or derives a skip.
// Skip is a property of edge activity: a node with no remaining active
// incoming edge, or whose active sources are all skipped, is skipped.
func (s *scheduler) evaluate(n *Node) (ready, skip bool) {
	var (
		hasIncoming bool
		sources     []string
		seen        = map[string]bool{}
	)
	for i, e := range s.wf.Edges {
		// Feedback edges never gate readiness; the rejection loop resets
		// their target directly.
		if e.Target != n.ID || s.feedback[i] {
			continue
		}
		hasIncoming = true
		if !s.active[i] || seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		sources = append(sources, e.Source)
	}

	if !hasIncoming {
		// Only the input node starts without predecessors.
		return n.Type == NodeInput, n.Type != NodeInput
	}
	if len(sources) == 0 {
		// Every incoming edge was masked away.
		return false, true
	}

	if n.Type == NodeMerge && mergeStrategy(n) == "first-complete" {
		for _, src := range sources {
			if s.ec.NodeState(src).Status == StatusComplete {
				return true, false
			}
			if s.ec.NodeState(src).Status == StatusSkipped {
				continue
			}
		}
		// No winner yet; skip only when nothing can still complete.
		allSkipped := true
		for _, src := range sources {
			if s.ec.NodeState(src).Status != StatusSkipped {
				allSkipped = false
				break
			}
		}
		return false, allSkipped
	}

	allTerminal, anyComplete, allSkipped := true, false, true
	for _, src := range sources {
		switch s.ec.NodeState(src).Status {
		case StatusComplete:
			anyComplete = true
			allSkipped = false
		case StatusSkipped:
		default:
			allTerminal = false
			allSkipped = false
		}
	}
	if allSkipped {
		return false, true
	}
	return allTerminal && anyComplete, false
}

func (s *scheduler) dispatch(nodeID string) {
	n := s.wf.NodeByID(nodeID)
	ex, err := s.cfg.registry.Lookup(n.Type)
	if err != nil {
		// Validation guarantees a registered executor; treat as a node
		// failure if the registry changed underneath us.
		s.inFlight[nodeID] = true
		s.ec.setStatus(nodeID, StatusRunning)
		s.cfg.metrics.nodeStarted()
		s.doneCh <- nodeDone{nodeID: nodeID, err: err, started: time.Now()}
		return
	}

	if n.Type == NodeMerge {
		s.ec.stageValue(nodeID, s.mergeInput(n))
	}

	runCount := s.ec.bumpRunCount(nodeID)
	s.ec.setStatus(nodeID, StatusRunning)
	s.inFlight[nodeID] = true
	s.cfg.metrics.nodeStarted()
	s.publish(emit.Event{
		Type:     emit.EventNodeStart,
		NodeID:   nodeID,
		NodeName: n.Name,
		RunCount: runCount,
	})

	feedback, _ := s.ec.TakeFeedback(nodeID)

	env := &ExecEnv{
		Stream: func(ev emit.StreamEvent) {
			streamCopy := ev
			s.publish(emit.Event{Type: emit.EventNodeOutput, NodeID: nodeID, Stream: &streamCopy})
		},
		Waiting: func(req emit.ApprovalRequest) {
			s.ec.setStatus(nodeID, StatusWaiting)
			s.waited[nodeID] = true
			s.cfg.metrics.approvalParked()
			reqCopy := req
			s.publish(emit.Event{
				Type:     emit.EventNodeWaiting,
				NodeID:   nodeID,
				NodeName: n.Name,
				Approval: &reqCopy,
			})
		},
		Approvals:   s.cfg.approvals,
		Runners:     s.cfg.runners,
		Schemas:     s.cfg.schemas,
		Store:       s.cfg.store,
		HistoryRoot: s.cfg.historyRoot,
		Workflow:    s.wf,
		RunCount:    runCount,
		Feedback:    feedback,
	}

	started := time.Now()
	go func() {
		nodeCtx := s.ctx
		var cancel context.CancelFunc
		if s.cfg.nodeTimeout > 0 {
			nodeCtx, cancel = context.WithTimeout(nodeCtx, s.cfg.nodeTimeout)
			defer cancel()
		}
		res, err := ex.Execute(nodeCtx, n, s.ec, env)
		if err != nil && s.ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{What: "node " + n.Name}
		}
		s.doneCh <- nodeDone{nodeID: nodeID, res: res, err: err, started: started}
	}()
}

// mergeInput computes what a merge node receives: the lone winner's
// output for first-complete, a name-keyed mapping (or the single value)
// for wait-all.
func (s *scheduler) mergeInput(n *Node) any {
	var (
		complete []string
		seen     = map[string]bool{}
	)
	for i, e := range s.wf.Edges {
		if e.Target != n.ID || !s.active[i] || s.feedback[i] || seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		if s.ec.NodeState(e.Source).Status == StatusComplete {
			complete = append(complete, e.Source)
		}
	}
	sort.Slice(complete, func(i, j int) bool { return s.topo[complete[i]] < s.topo[complete[j]] })

	if mergeStrategy(n) == "first-complete" && len(complete) > 0 {
		out, _ := s.ec.Output(complete[0])
		return out
	}

	switch len(complete) {
	case 0:
		return nil
	case 1:
		out, _ := s.ec.Output(complete[0])
		return out
	default:
		byName := make(map[string]any, len(complete))
		for _, src := range complete {
			name := src
			if nm, ok := s.ec.NodeName(src); ok {
				name = nm
			}
			byName[name], _ = s.ec.Output(src)
		}
		return byName
	}
}

func (s *scheduler) handleDone(d nodeDone, abortErr *error) {
	delete(s.inFlight, d.nodeID)
	n := s.wf.NodeByID(d.nodeID)
	elapsed := time.Since(d.started)

	if s.waited[d.nodeID] {
		delete(s.waited, d.nodeID)
		s.cfg.metrics.approvalResolved()
	}

	if d.err != nil {
		// Interrupt and abort drains are not per-node failures.
		if s.ctx.Err() != nil && (errors.Is(d.err, context.Canceled) || errors.Is(d.err, ErrCancelled)) {
			s.ec.setStatus(d.nodeID, StatusPending)
			s.cfg.metrics.nodeFinished(n.Type, "cancelled", elapsed)
			return
		}

		nerr := &NodeError{NodeID: d.nodeID, NodeName: n.Name, Err: d.err}
		s.ec.setError(d.nodeID, d.err)
		s.ec.setStatus(d.nodeID, StatusError)
		s.cfg.metrics.nodeFinished(n.Type, "error", elapsed)
		s.publish(emit.Event{Type: emit.EventNodeError, NodeID: d.nodeID, NodeName: n.Name, Err: d.err.Error()})

		if *abortErr == nil {
			*abortErr = nerr
			// Cancel the rest of the run; in-flight executors drain
			// through the cancellation path above.
			s.exec.cancel()
		}
		return
	}

	handle := ""
	if ex, err := s.cfg.registry.Lookup(n.Type); err == nil {
		if oh, ok := ex.(OutputHandler); ok {
			handle = oh.OutputHandle(d.res, n)
		}
	}

	loop := false
	if n.Type == NodeApproval && handle == "rejected" {
		var decided bool
		loop, decided, handle = s.resolveRejection(n, d.res, abortErr)
		if decided && *abortErr != nil {
			return
		}
	}

	s.ec.SetOutput(d.nodeID, d.res.Output)
	s.ec.setResult(d.nodeID, d.res.Output)
	s.ec.setStatus(d.nodeID, StatusComplete)
	s.cfg.metrics.nodeFinished(n.Type, "success", elapsed)
	s.publish(emit.Event{Type: emit.EventNodeComplete, NodeID: d.nodeID, NodeName: n.Name, Result: d.res.Output})

	if loop {
		s.engageRejectionLoop(n, d.res)
		return
	}
	s.maskEdges(d.nodeID, handle)
}

// resolveRejection decides what a rejected approval does: engage the
// feedback loop, exhaust into one of the onMaxRetries behaviors, or fall
// through to normal rejected-handle masking.
func (s *scheduler) resolveRejection(n *Node, res *ExecResult, abortErr *error) (loop, decided bool, handle string) {
	handle = "rejected"
	target := s.feedbackTarget(n)
	if target == "" {
		return false, false, handle
	}

	anc := s.wf.NodeByID(target)
	if rh := ancestorRejectionHandler(anc); rh != nil && s.ec.RunCount(target) > rh.maxRetries {
		switch rh.onMaxRetries {
		case "skip":
			// Give up on the loop; the rejection masks the approved branch
			// like any other rejected approval.
			return false, true, "rejected"
		case "approve-anyway":
			if out, ok := res.Output.(map[string]any); ok {
				out["approved"] = true
			}
			return false, true, "approved"
		default: // fail
			*abortErr = &NodeError{
				NodeID:   n.ID,
				NodeName: n.Name,
				Err:      fmt.Errorf("rejection retries for node %q exhausted after %d runs", anc.Name, s.ec.RunCount(target)),
			}
			s.ec.setStatus(n.ID, StatusError)
			s.publish(emit.Event{Type: emit.EventNodeError, NodeID: n.ID, NodeName: n.Name, Err: (*abortErr).Error()})
			s.exec.cancel()
			return false, true, handle
		}
	}
	return true, false, handle
}

// feedbackTarget returns the ancestor targeted by a rejected-handle edge,
// or empty when the rejection has no feedback loop.
func (s *scheduler) feedbackTarget(n *Node) string {
	for i, e := range s.wf.Edges {
		if e.Source == n.ID && s.active[i] && s.feedback[i] {
			return e.Target
		}
	}
	return ""
}

// engageRejectionLoop resets the feedback subgraph back to pending: the
// target ancestor, every node between it and the approval, and the
// approval itself. The ancestor's next dispatch carries the feedback and
// an incremented run counter.
func (s *scheduler) engageRejectionLoop(n *Node, res *ExecResult) {
	target := s.feedbackTarget(n)
	if target == "" {
		return
	}

	reset := map[string]bool{target: true, n.ID: true}
	for id := range s.idx.descendants[target] {
		if s.idx.ancestors[n.ID][id] {
			reset[id] = true
		}
	}

	for id := range reset {
		s.ec.setStatus(id, StatusPending)
	}
	// Re-arm every edge leaving the reset subgraph; the re-run makes its
	// own branch decisions.
	for i, e := range s.wf.Edges {
		if reset[e.Source] {
			s.active[i] = true
		}
	}

	feedback := ""
	if out, ok := res.Output.(map[string]any); ok {
		feedback, _ = out["feedback"].(string)
	}
	s.ec.SetFeedback(target, feedback)

	if anc := s.wf.NodeByID(target); anc != nil {
		s.cfg.metrics.rejectionLoop(anc.Type)
	}
}

// maskEdges deactivates the outgoing edges whose source handle differs
// from the nominated handle. Handle-less edges match every handle.
func (s *scheduler) maskEdges(nodeID, handle string) {
	if handle == "" {
		return
	}
	for i, e := range s.wf.Edges {
		if e.Source != nodeID || !s.active[i] {
			continue
		}
		if e.SourceHandle != "" && e.SourceHandle != handle {
			s.active[i] = false
		}
	}
}

func (s *scheduler) anyPending() bool {
	for i := range s.wf.Nodes {
		if s.ec.NodeState(s.wf.Nodes[i].ID).Status == StatusPending {
			return true
		}
	}
	return false
}

// finalResult gathers the outputs of complete output-typed nodes: the
// single value when one completed, a name-keyed mapping when several did.
func (s *scheduler) finalResult() any {
	var (
		single   any
		complete int
		byName   = map[string]any{}
	)
	for _, id := range s.wf.NodesOfType(NodeOutput) {
		if s.ec.NodeState(id).Status != StatusComplete {
			continue
		}
		out, ok := s.ec.Output(id)
		if !ok {
			continue
		}
		complete++
		single = out
		name := id
		if n, ok := s.ec.NodeName(id); ok {
			name = n
		}
		byName[name] = out
	}
	switch complete {
	case 0:
		return nil
	case 1:
		return single
	default:
		return byName
	}
}

func (s *scheduler) saveSummary(status ExecutionStatus, startedAt time.Time, finalResult any, execErr error) {
	if s.cfg.store == nil {
		return
	}
	sum := summarize(s.wf, s.ec, status, startedAt, finalResult, execErr)
	// The run context may already be cancelled on the terminal write.
	_ = s.cfg.store.SaveExecution(context.Background(), sum)
}

// ancestorRejectionHandler reads a node's rejectionHandler config when the
// node is agent-typed and one is configured.
func ancestorRejectionHandler(n *Node) *rejectionHandler {
	if n == nil || !n.Type.IsAgent() {
		return nil
	}
	cfg, err := parseAgentConfig(n)
	if err != nil {
		return nil
	}
	return cfg.rejection
}

// topoOrder assigns each node a topological index via Kahn's algorithm,
// breaking ties by declaration order. Nodes on cycles (impossible after
// validation) keep a stable fallback index.
func topoOrder(nodes []Node, edges []Edge) map[string]int {
	indeg := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	declared := make(map[string]int, len(nodes))
	for i := range nodes {
		indeg[nodes[i].ID] = 0
		declared[nodes[i].ID] = i
	}
	for _, e := range edges {
		succ[e.Source] = append(succ[e.Source], e.Target)
		indeg[e.Target]++
	}

	var queue []string
	for i := range nodes {
		if indeg[nodes[i].ID] == 0 {
			queue = append(queue, nodes[i].ID)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return declared[queue[i]] < declared[queue[j]] })

	order := make(map[string]int, len(nodes))
	next := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order[id] = next
		next++
		var released []string
		for _, t := range succ[id] {
			indeg[t]--
			if indeg[t] == 0 {
				released = append(released, t)
			}
		}
		sort.Slice(released, func(i, j int) bool { return declared[released[i]] < declared[released[j]] })
		queue = append(queue, released...)
	}
	for i := range nodes {
		if _, ok := order[nodes[i].ID]; !ok {
			order[nodes[i].ID] = next + declared[nodes[i].ID]
		}
	}
	return order
}
