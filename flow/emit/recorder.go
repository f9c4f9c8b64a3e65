package emit

import "sync"

// Recorder is a Sink that stores every event it observes, in order.
//
// It backs tests and post-run inspection: attach it with Forward, run the
// execution, then query the captured stream. All methods are safe for
// concurrent use, and query results are copies.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handle implements Sink.
func (r *Recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of every captured event in emission order.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns captured events of the given type, in emission order.
func (r *Recorder) ByType(t EventType) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ByNode returns captured events bearing the given node id, in emission
// order.
func (r *Recorder) ByNode(nodeID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, ev := range r.events {
		if ev.NodeID == nodeID {
			out = append(out, ev)
		}
	}
	return out
}

// Terminal returns the last captured event, which for a finished execution
// is always execution-complete, execution-error or validation-error.
// The second return is false when nothing was captured.
func (r *Recorder) Terminal() (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
