// Package runner abstracts the external AI agent backends that execute
// agent-typed workflow nodes.
//
// The engine treats agent execution as an opaque streaming capability: it
// hands a Runner a prepared request, receives chunks as they arrive, and
// collects a final result. Concrete adapters live in subpackages
// (anthropic for claude-agent nodes, openai for codex-agent nodes); Mock
// backs tests.
package runner

import (
	"context"
	"encoding/json"
)

// Format selects the shape of a runner's final output.
type Format string

const (
	// FormatText returns the agent's answer as plain text.
	FormatText Format = "text"

	// FormatJSON instructs the agent to produce a JSON document, returned
	// in Result.JSON.
	FormatJSON Format = "json"
)

// Request describes one agent invocation. Prompts arrive fully
// interpolated; the runner performs no placeholder expansion.
type Request struct {
	// Prompt is the user-level instruction for this turn.
	Prompt string

	// SystemPrompt, when non-empty, overrides the backend default.
	SystemPrompt string

	// Model names the backend model. Empty selects the adapter default.
	Model string

	// Tools lists the tool names the agent may use. Interpretation is
	// adapter-specific; adapters without tool support ignore it.
	Tools []string

	// MCPServers names the MCP servers the agent may reach, resolved
	// against the adapter's server registry. Adapters without MCP support
	// ignore it.
	MCPServers []string

	// WorkingDirectory is the directory context for tool use.
	WorkingDirectory string

	// MaxTurns bounds agent/tool round-trips. Zero means adapter default.
	MaxTurns int

	// Format selects text or JSON output.
	Format Format

	// Schema optionally constrains JSON output (JSON Schema document).
	Schema map[string]any

	// SessionID, when non-empty, resumes a previous conversation. Runners
	// that cannot resume start fresh and return a new session id.
	SessionID string
}

// Runner kinds used to key the engine's runner map. Agent node types map
// onto these: claude-agent nodes use KindClaude, codex-agent nodes use
// KindCodex.
const (
	KindClaude = "claude"
	KindCodex  = "codex"
)

// ChunkType tags streaming chunks produced during a run.
type ChunkType string

const (
	ChunkTextDelta  ChunkType = "text-delta"
	ChunkToolUse    ChunkType = "tool-use"
	ChunkToolResult ChunkType = "tool-result"
	ChunkThinking   ChunkType = "thinking"
	ChunkTodoList   ChunkType = "todo-list"
)

// Chunk is one streaming fragment of an in-flight agent run.
type Chunk struct {
	Type ChunkType

	// Text holds the fragment for text-delta and thinking chunks.
	Text string

	// Tool names the tool for tool-use and tool-result chunks.
	Tool string

	// Payload carries structured chunk data (tool input/result, todo
	// items) when the backend provides it.
	Payload json.RawMessage
}

// Usage reports token consumption for a run when the backend provides it.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Result is the final output of an agent run.
type Result struct {
	// Text is the accumulated answer text.
	Text string

	// JSON is set when the request asked for FormatJSON.
	JSON json.RawMessage

	// SessionID identifies the conversation for later resumption.
	SessionID string

	// Turns is the number of agent/tool round-trips consumed.
	Turns int

	Usage Usage
}

// Runner executes one agent request, invoking onChunk for every streaming
// fragment in arrival order before returning the final result.
//
// Implementations must respect ctx at every streaming boundary: when ctx
// is cancelled they abandon the backend call and return ctx.Err().
// onChunk may be nil when the caller does not observe the stream.
type Runner interface {
	Run(ctx context.Context, req Request, onChunk func(Chunk)) (Result, error)
}
