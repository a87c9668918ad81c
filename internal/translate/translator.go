// Package translate turns a natural-language question plus the capability
// descriptors into either a capability invocation decision or a final
// answer, by way of the text-completion service.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/llm"
)

// ToolCall is the model's decision to invoke a capability.
type ToolCall struct {
	CallID     string
	Capability string
	Arguments  map[string]any
}

// Outcome is the translation result: exactly one of ToolCall or Answer is
// set.
type Outcome struct {
	ToolCall *ToolCall
	Answer   string
}

// Exchange is one completed invocation round inside a turn: the call the
// model made and what came back, flattened to text for the next round.
type Exchange struct {
	Call    ToolCall
	Content string
	IsError bool
}

// Turn accumulates the conversation state for one user question.
type Turn struct {
	Question  string
	Exchanges []Exchange
}

// Error is a completion-service failure or a malformed model response.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation: %s: %v", e.Reason, e.Err)
	}
	return "translation: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Translator decides the next step for a turn.
type Translator interface {
	Translate(ctx context.Context, turn *Turn, caps []capability.Descriptor) (*Outcome, error)
}

const systemPrompt = `You are a database query assistant. Answer the user's question by
querying the database with the tools provided. Call describe_schema if you
are unsure about table layout, call run_sql_query with exactly one SQL
statement to read data, and once the results answer the question, reply
with a short plain-language answer instead of another tool call. If a query
fails, read the error message and issue a corrected query.`

// LLMTranslator implements Translator over the multi-provider LLM client.
type LLMTranslator struct {
	client     *llm.Client
	model      string
	schemaHint string
	logger     *slog.Logger
}

// Option configures an LLMTranslator.
type Option func(*LLMTranslator)

// WithSchemaHint injects a description of the database layout into the
// system prompt, so simple questions resolve without a describe_schema
// round.
func WithSchemaHint(hint string) Option {
	return func(t *LLMTranslator) { t.schemaHint = hint }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *LLMTranslator) { t.logger = l }
}

// NewLLMTranslator creates a translator using model on client.
func NewLLMTranslator(client *llm.Client, model string, opts ...Option) *LLMTranslator {
	t := &LLMTranslator{client: client, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LLMTranslator) Translate(ctx context.Context, turn *Turn, caps []capability.Descriptor) (*Outcome, error) {
	req := llm.Request{
		Model:    t.model,
		Messages: t.buildMessages(turn),
		Tools:    buildTools(caps),
	}

	resp, err := t.client.Complete(ctx, req)
	if err != nil {
		return nil, &Error{Reason: "completion failed", Err: err}
	}

	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return nil, &Error{Reason: fmt.Sprintf("malformed tool-call arguments for %s", tc.Name), Err: err}
		}
		t.logger.Debug("translation produced tool call", "capability", tc.Name)
		return &Outcome{ToolCall: &ToolCall{
			CallID:     tc.ID,
			Capability: tc.Name,
			Arguments:  args,
		}}, nil
	}

	if resp.Content == "" {
		return nil, &Error{Reason: "model returned neither a tool call nor an answer"}
	}
	return &Outcome{Answer: resp.Content}, nil
}

func (t *LLMTranslator) buildMessages(turn *Turn) []llm.Message {
	system := systemPrompt
	if t.schemaHint != "" {
		system += "\n\nDatabase layout:\n" + t.schemaHint
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: turn.Question},
	}

	for _, ex := range turn.Exchanges {
		args, _ := json.Marshal(ex.Call.Arguments)
		messages = append(messages, llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{{
				ID:        ex.Call.CallID,
				Name:      ex.Call.Capability,
				Arguments: string(args),
			}},
		})
		messages = append(messages, llm.Message{
			Role:       "tool",
			ToolCallID: ex.Call.CallID,
			Content:    ex.Content,
		})
	}
	return messages
}

// buildTools converts capability descriptors into the JSON-schema tool
// declarations the completion API expects.
func buildTools(caps []capability.Descriptor) []llm.Tool {
	tools := make([]llm.Tool, 0, len(caps))
	for _, c := range caps {
		properties := make(map[string]any, len(c.Parameters))
		var required []string
		for name, spec := range c.Parameters {
			properties[name] = map[string]any{
				"type":        spec.Type,
				"description": spec.Description,
			}
			if spec.Required {
				required = append(required, name)
			}
		}
		sort.Strings(required)
		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		tools = append(tools, llm.Tool{
			Name:        c.Name,
			Description: c.Description,
			Parameters:  schema,
		})
	}
	return tools
}
