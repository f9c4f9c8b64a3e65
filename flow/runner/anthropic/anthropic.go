// Package anthropic adapts Anthropic's Claude API to the runner.Runner
// interface, backing claude-agent workflow nodes.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/smogili1/agentflow/flow/runner"
)

const defaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// Runner executes agent requests against the Anthropic Messages API in
// streaming mode.
//
// Conversation persistence: the Messages API is stateless, so the adapter
// keeps per-session transcripts in memory. A request with an empty
// SessionID starts a fresh transcript and the result carries its new id; a
// request naming a known session resumes it.
//
// Example:
//
//	r := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"))
//	res, err := r.Run(ctx, runner.Request{Prompt: "summarize ..."}, onChunk)
type Runner struct {
	client anthropic.Client

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

// New creates a Runner authenticated with the given API key.
func New(apiKey string) *Runner {
	return &Runner{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		sessions: make(map[string][]anthropic.MessageParam),
	}
}

// Run implements runner.Runner.
func (r *Runner) Run(ctx context.Context, req runner.Request, onChunk func(runner.Chunk)) (runner.Result, error) {
	if ctx.Err() != nil {
		return runner.Result{}, ctx.Err()
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	sessionID, history := r.resumeSession(req.SessionID)
	history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages:  history,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	stream := r.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}

	for stream.Next() {
		if ctx.Err() != nil {
			return runner.Result{}, ctx.Err()
		}

		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return runner.Result{}, fmt.Errorf("anthropic: accumulate stream event: %w", err)
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				emit(onChunk, runner.Chunk{Type: runner.ChunkTextDelta, Text: delta.Text})
			case anthropic.ThinkingDelta:
				emit(onChunk, runner.Chunk{Type: runner.ChunkThinking, Text: delta.Thinking})
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return runner.Result{}, ctx.Err()
		}
		return runner.Result{}, fmt.Errorf("anthropic: stream: %w", err)
	}

	text := collectText(message)
	r.storeSession(sessionID, append(history, message.ToParam()))

	res := runner.Result{
		Text:      text,
		SessionID: sessionID,
		Turns:     1,
		Usage: runner.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}

	if req.Format == runner.FormatJSON {
		doc, err := extractJSON(text)
		if err != nil {
			return runner.Result{}, err
		}
		res.JSON = doc
	}

	return res, nil
}

// resumeSession returns the transcript for the named session, or a fresh
// session when the id is empty or unknown.
func (r *Runner) resumeSession(id string) (string, []anthropic.MessageParam) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if history, ok := r.sessions[id]; ok {
			out := make([]anthropic.MessageParam, len(history))
			copy(out, history)
			return id, out
		}
	}
	return uuid.NewString(), nil
}

func (r *Runner) storeSession(id string, history []anthropic.MessageParam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = history
}

func buildPrompt(req runner.Request) string {
	prompt := req.Prompt
	if req.Format == runner.FormatJSON {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\nRespond with a single JSON document and nothing else.")
		if len(req.Schema) > 0 {
			if schema, err := json.Marshal(req.Schema); err == nil {
				b.WriteString(" The document must conform to this JSON Schema:\n")
				b.Write(schema)
			}
		}
		prompt = b.String()
	}
	return prompt
}

func collectText(message anthropic.Message) string {
	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func emit(onChunk func(runner.Chunk), c runner.Chunk) {
	if onChunk != nil {
		onChunk(c)
	}
}

// extractJSON pulls the first JSON object or array out of agent text,
// tolerating surrounding prose and markdown fences.
func extractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return nil, fmt.Errorf("anthropic: response contains no JSON document")
	}

	candidate := trimmed[start:]
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, fmt.Errorf("anthropic: response is not valid JSON: %w", err)
	}
	return doc, nil
}
