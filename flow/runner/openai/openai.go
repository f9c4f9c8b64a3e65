// Package openai adapts the OpenAI chat completions API to the
// runner.Runner interface, backing codex-agent workflow nodes.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/smogili1/agentflow/flow/runner"
)

const defaultModel = openai.ChatModelGPT4o

// Runner executes agent requests against the OpenAI chat completions API
// in streaming mode.
//
// Like the Anthropic adapter it keeps per-session transcripts in memory so
// rejection re-runs with continueSession can resume a conversation.
type Runner struct {
	client openai.Client

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessageParamUnion
}

// New creates a Runner authenticated with the given API key.
func New(apiKey string) *Runner {
	return &Runner{
		client:   openai.NewClient(option.WithAPIKey(apiKey)),
		sessions: make(map[string][]openai.ChatCompletionMessageParamUnion),
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
	if len(history) == 0 && req.SystemPrompt != "" {
		history = append(history, openai.SystemMessage(req.SystemPrompt))
	}
	history = append(history, openai.UserMessage(buildPrompt(req)))

	stream := r.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: history,
	})

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		if ctx.Err() != nil {
			return runner.Result{}, ctx.Err()
		}

		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" && onChunk != nil {
				onChunk(runner.Chunk{Type: runner.ChunkTextDelta, Text: delta})
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return runner.Result{}, ctx.Err()
		}
		return runner.Result{}, fmt.Errorf("openai: stream: %w", err)
	}

	if len(acc.Choices) == 0 {
		return runner.Result{}, fmt.Errorf("openai: empty completion")
	}
	text := acc.Choices[0].Message.Content

	r.storeSession(sessionID, append(history, openai.AssistantMessage(text)))

	res := runner.Result{
		Text:      text,
		SessionID: sessionID,
		Turns:     1,
		Usage: runner.Usage{
			InputTokens:  acc.Usage.PromptTokens,
			OutputTokens: acc.Usage.CompletionTokens,
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

func (r *Runner) resumeSession(id string) (string, []openai.ChatCompletionMessageParamUnion) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if history, ok := r.sessions[id]; ok {
			out := make([]openai.ChatCompletionMessageParamUnion, len(history))
			copy(out, history)
			return id, out
		}
	}
	return uuid.NewString(), nil
}

func (r *Runner) storeSession(id string, history []openai.ChatCompletionMessageParamUnion) {
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
		return nil, fmt.Errorf("openai: response contains no JSON document")
	}

	candidate := trimmed[start:]
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, fmt.Errorf("openai: response is not valid JSON: %w", err)
	}
	return doc, nil
}
