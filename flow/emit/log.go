package emit

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogSink writes execution events as structured log lines via zerolog.
//
// Each event becomes one log entry keyed by the event type, carrying the
// execution id, node id/name when present, and the event payload. Node and
// execution errors are logged at error level, everything else at info.
//
// Usage:
//
//	sink := emit.NewLogSink(os.Stderr)
//	wait := emit.Forward(bus.Subscribe(0), sink)
//	defer wait()
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink writing JSON log lines to w.
// A nil writer defaults to os.Stderr.
func NewLogSink(w io.Writer) *LogSink {
	if w == nil {
		w = os.Stderr
	}
	return &LogSink{log: zerolog.New(w).With().Timestamp().Logger()}
}

// NewLogSinkWithLogger creates a LogSink on an existing zerolog logger,
// letting callers share their application logger configuration.
func NewLogSinkWithLogger(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Handle implements Sink.
func (s *LogSink) Handle(ev Event) {
	entry := s.log.Info()
	if ev.Type == EventNodeError || ev.Type == EventExecutionError || ev.Type == EventValidationError {
		entry = s.log.Error()
	}

	entry = entry.
		Str("event", string(ev.Type)).
		Str("executionId", ev.ExecutionID).
		Int64("seq", ev.Seq)

	if ev.WorkflowID != "" {
		entry = entry.Str("workflowId", ev.WorkflowID)
	}
	if ev.NodeID != "" {
		entry = entry.Str("nodeId", ev.NodeID)
	}
	if ev.NodeName != "" {
		entry = entry.Str("nodeName", ev.NodeName)
	}
	if ev.RunCount > 0 {
		entry = entry.Int("runCount", ev.RunCount)
	}
	if ev.Stream != nil {
		entry = entry.Str("stream", string(ev.Stream.Type))
	}
	if ev.Err != "" {
		entry = entry.Str("error", ev.Err)
	}
	if ev.Approval != nil {
		entry = entry.Str("prompt", ev.Approval.PromptMessage)
	}
	for _, issue := range ev.Issues {
		entry = entry.Str("issue", issue.Code+": "+issue.Message)
	}

	entry.Msg("workflow event")
}
