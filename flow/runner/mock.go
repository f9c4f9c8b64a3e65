package runner

import (
	"context"
	"sync"
)

// Mock is a scripted Runner for tests.
//
// Each call consumes the next scripted Response in order; when the script
// is exhausted the last response repeats. Calls are recorded for
// assertions. Safe for concurrent use.
//
// Example:
//
//	r := &runner.Mock{
//	    Responses: []runner.Response{
//	        {Chunks: []runner.Chunk{{Type: runner.ChunkTextDelta, Text: "hi"}}, Result: runner.Result{Text: "hi"}},
//	    },
//	}
type Mock struct {
	// Responses is the scripted sequence of runs.
	Responses []Response

	// Err, when set, is returned by every Run instead of a response.
	Err error

	// Delay function, when set, is called between chunks; tests use it to
	// widen cancellation windows.
	Delay func()

	mu    sync.Mutex
	calls []Request
	next  int
}

// Response scripts one Mock run: the chunks to stream and the final result.
type Response struct {
	Chunks []Chunk
	Result Result
	Err    error
}

// Run implements Runner.
func (m *Mock) Run(ctx context.Context, req Request, onChunk func(Chunk)) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	idx := m.next
	if idx >= len(m.Responses) && len(m.Responses) > 0 {
		idx = len(m.Responses) - 1
	}
	m.next++
	var resp Response
	if len(m.Responses) > 0 {
		resp = m.Responses[idx]
	}
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return Result{}, err
	}

	for _, c := range resp.Chunks {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if onChunk != nil {
			onChunk(c)
		}
		if m.Delay != nil {
			m.Delay()
		}
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if resp.Err != nil {
		return Result{}, resp.Err
	}

	res := resp.Result
	if res.SessionID == "" {
		res.SessionID = req.SessionID
	}
	return res, nil
}

// Calls returns a copy of every request Run has received.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
