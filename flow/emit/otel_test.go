package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*OTelSink, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelSink(tp.Tracer("agentflow-test")), sr
}

func TestOTelSink_SpanTree(t *testing.T) {
	sink, sr := newTestTracer(t)

	sink.Handle(Event{Type: EventExecutionStart, ExecutionID: "x1", WorkflowID: "wf"})
	sink.Handle(Event{Type: EventNodeStart, ExecutionID: "x1", NodeID: "a", NodeName: "A", RunCount: 1})
	sink.Handle(Event{Type: EventNodeOutput, NodeID: "a", Stream: &StreamEvent{Type: StreamTextDelta, Text: "hi"}})
	sink.Handle(Event{Type: EventNodeComplete, NodeID: "a", NodeName: "A"})
	sink.Handle(Event{Type: EventExecutionComplete, ExecutionID: "x1", Result: "done"})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want node + execution", len(spans))
	}

	node, exec := spans[0], spans[1]
	if node.Name() != "workflow.node" || exec.Name() != "workflow.execute" {
		t.Errorf("span names = %s, %s", node.Name(), exec.Name())
	}
	if node.Parent().SpanID() != exec.SpanContext().SpanID() {
		t.Error("node span is not a child of the execution span")
	}
	if node.Status().Code != codes.Ok || exec.Status().Code != codes.Ok {
		t.Errorf("statuses = %v, %v", node.Status(), exec.Status())
	}
	if events := node.Events(); len(events) != 1 || events[0].Name != string(StreamTextDelta) {
		t.Errorf("node span events = %+v", node.Events())
	}
}

func TestOTelSink_NodeError(t *testing.T) {
	sink, sr := newTestTracer(t)

	sink.Handle(Event{Type: EventExecutionStart, ExecutionID: "x1"})
	sink.Handle(Event{Type: EventNodeStart, NodeID: "a", RunCount: 1})
	sink.Handle(Event{Type: EventNodeError, NodeID: "a", Err: "boom"})
	sink.Handle(Event{Type: EventExecutionError, Err: "node a failed"})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("node status = %v, want error", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("execution status = %v, want error", spans[1].Status())
	}
}

func TestOTelSink_AbortEndsOpenNodeSpans(t *testing.T) {
	sink, sr := newTestTracer(t)

	sink.Handle(Event{Type: EventExecutionStart, ExecutionID: "x1"})
	sink.Handle(Event{Type: EventNodeStart, NodeID: "a", RunCount: 1})
	sink.Handle(Event{Type: EventNodeStart, NodeID: "b", RunCount: 1})
	// The run is interrupted with both nodes still in flight.
	sink.Handle(Event{Type: EventExecutionError, Err: "execution interrupted"})

	if got := len(sr.Ended()); got != 3 {
		t.Errorf("ended spans = %d, want both node spans closed with the root", got)
	}
}

func TestOTelSink_ValidationError(t *testing.T) {
	sink, sr := newTestTracer(t)

	sink.Handle(Event{Type: EventValidationError, WorkflowID: "wf", Err: "workflow validation failed"})

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "workflow.validate" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status())
	}
}
