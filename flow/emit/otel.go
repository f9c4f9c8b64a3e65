package emit

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink translates an execution's event stream into OpenTelemetry spans.
//
// Span model:
//   - execution-start opens a root span for the execution; the terminal
//     event (execution-complete / execution-error) ends it.
//   - node-start opens a child span per node run; node-complete and
//     node-error end it. Rejection-driven re-runs open a fresh span with
//     an incremented runCount attribute.
//   - node-output and node-waiting become span events on the node's span.
//   - validation-error becomes a short-lived errored root span.
//
// Usage:
//
//	tracer := otel.Tracer("agentflow")
//	wait := emit.Forward(bus.Subscribe(0), emit.NewOTelSink(tracer))
//	defer wait()
type OTelSink struct {
	tracer trace.Tracer

	mu        sync.Mutex
	execCtx   context.Context
	execSpan  trace.Span
	nodeSpans map[string]trace.Span
}

// NewOTelSink creates an OTelSink on the given tracer.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{
		tracer:    tracer,
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle implements Sink.
func (o *OTelSink) Handle(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case EventExecutionStart:
		o.execCtx, o.execSpan = o.tracer.Start(context.Background(), "workflow.execute",
			trace.WithAttributes(
				attribute.String("execution.id", ev.ExecutionID),
				attribute.String("workflow.id", ev.WorkflowID),
			))

	case EventNodeStart:
		parent := o.execCtx
		if parent == nil {
			parent = context.Background()
		}
		_, span := o.tracer.Start(parent, "workflow.node",
			trace.WithAttributes(
				attribute.String("execution.id", ev.ExecutionID),
				attribute.String("node.id", ev.NodeID),
				attribute.String("node.name", ev.NodeName),
				attribute.Int("node.run_count", ev.RunCount),
			))
		o.nodeSpans[ev.NodeID] = span

	case EventNodeOutput:
		if span, ok := o.nodeSpans[ev.NodeID]; ok && ev.Stream != nil {
			span.AddEvent(string(ev.Stream.Type))
		}

	case EventNodeWaiting:
		if span, ok := o.nodeSpans[ev.NodeID]; ok {
			span.AddEvent("waiting-for-approval")
		}

	case EventNodeComplete:
		if span, ok := o.nodeSpans[ev.NodeID]; ok {
			span.SetStatus(codes.Ok, "")
			span.End()
			delete(o.nodeSpans, ev.NodeID)
		}

	case EventNodeError:
		if span, ok := o.nodeSpans[ev.NodeID]; ok {
			span.SetStatus(codes.Error, ev.Err)
			span.RecordError(errors.New(ev.Err))
			span.End()
			delete(o.nodeSpans, ev.NodeID)
		}

	case EventExecutionComplete:
		o.endExecution(codes.Ok, "")

	case EventExecutionError:
		o.endExecution(codes.Error, ev.Err)

	case EventValidationError:
		_, span := o.tracer.Start(context.Background(), "workflow.validate",
			trace.WithAttributes(attribute.String("workflow.id", ev.WorkflowID)))
		span.SetStatus(codes.Error, ev.Err)
		span.End()
	}
}

func (o *OTelSink) endExecution(code codes.Code, desc string) {
	// End any node span left open by an aborted run.
	for id, span := range o.nodeSpans {
		span.End()
		delete(o.nodeSpans, id)
	}

	if o.execSpan != nil {
		o.execSpan.SetStatus(code, desc)
		if code == codes.Error && desc != "" {
			o.execSpan.RecordError(errors.New(desc))
		}
		o.execSpan.End()
		o.execSpan = nil
		o.execCtx = nil
	}
}
