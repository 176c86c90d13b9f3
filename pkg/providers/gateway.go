package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dotsetgreg/chatpilot/pkg/retry"
)

const summarySystemPrompt = "You are a helpful assistant that creates concise summaries of conversations. " +
	"Summarize the conversation, capturing key topics, user preferences, " +
	"and important context. Keep the summary brief but informative."

// Gateway presents one interface over the two wire-incompatible backends
// and orchestrates the bounded tool-call round trip.
type Gateway struct {
	backends        map[string]Backend
	invoker         ToolInvoker
	schema          *FunctionSchema
	policy          retry.Policy
	defaultProvider string
}

// NewGateway wires the registered backends behind one dispatch point.
// schema may be nil when no tool is available; invoker is only consulted
// when a backend requests a function call.
func NewGateway(defaultProvider string, invoker ToolInvoker, schema *FunctionSchema, backends ...Backend) *Gateway {
	registered := make(map[string]Backend, len(backends))
	for _, backend := range backends {
		registered[backend.Name()] = backend
	}
	return &Gateway{
		backends:        registered,
		invoker:         invoker,
		schema:          schema,
		policy:          retry.DefaultPolicy(),
		defaultProvider: defaultProvider,
	}
}

// Generate produces a response for the conversation, performing at most
// one tool round trip: if the first backend call requests a function
// call, the tool is executed, two synthetic turns are appended, and the
// backend is called a second and final time. A tool call requested on
// that second pass is not honored.
func (g *Gateway) Generate(ctx context.Context, messages []Message, systemPrompt, provider string) (string, []Message, error) {
	backend, err := g.backend(provider)
	if err != nil {
		return "", nil, err
	}

	start := time.Now()
	result, err := g.call(ctx, backend, messages, systemPrompt)
	if err != nil {
		return "", nil, err
	}

	updated := make([]Message, len(messages), len(messages)+2)
	copy(updated, messages)

	responseText := result.Text
	if result.FunctionCall != nil {
		call := result.FunctionCall
		slog.Info("function call requested",
			"provider", backend.Name(),
			"function", call.Name)

		functionResult := g.invoke(ctx, call)

		updated = append(updated,
			Message{Role: RoleAssistant, FunctionCall: call},
			Message{Role: RoleFunction, Name: call.Name, Content: functionResult},
		)

		final, err := g.call(ctx, backend, updated, systemPrompt)
		if err != nil {
			return "", nil, err
		}
		// A second tool-call request is ignored; the loop is bounded to one round.
		responseText = final.Text
	}

	slog.Info("response generated",
		"provider", backend.Name(),
		"duration", time.Since(start),
		"response_length", len(responseText),
		"had_function_call", result.FunctionCall != nil)
	return responseText, updated, nil
}

// Summarize condenses messages into a summary, merging with
// previousSummary when present. It never fails: if the backend call
// cannot be completed the previous summary is degraded into a fallback
// that still accounts for the unprocessed messages.
func (g *Gateway) Summarize(ctx context.Context, messages []Message, previousSummary, provider string) string {
	transcript := flattenTranscript(messages)

	var content string
	if previousSummary != "" {
		content = fmt.Sprintf(
			"Previous conversation summary:\n%s\n\nNew messages:\n%s\n\n"+
				"Please create an updated summary that compresses both the previous "+
				"summary and the new messages into a single concise summary.",
			previousSummary, transcript)
	} else {
		content = fmt.Sprintf("Please summarize this conversation:\n\n%s", transcript)
	}

	summary, err := g.generateOnce(ctx, []Message{{Role: RoleUser, Content: content}}, summarySystemPrompt, provider)
	if err != nil {
		slog.Error("summarization failed, using fallback",
			"provider", provider,
			"message_count", len(messages),
			"error", err)
		if previousSummary != "" {
			return fmt.Sprintf("%s\n\nAdditional %d messages discussed.", previousSummary, len(messages))
		}
		return fmt.Sprintf("Previous conversation covered %d messages.", len(messages))
	}

	slog.Info("summary generated", "length", len(summary), "message_count", len(messages))
	return summary
}

// generateOnce issues a single backend call with no tool round trip. A
// function-call response is tolerated and discarded; it should not occur
// on summarization traffic but must not crash it.
func (g *Gateway) generateOnce(ctx context.Context, messages []Message, systemPrompt, provider string) (string, error) {
	backend, err := g.backend(provider)
	if err != nil {
		return "", err
	}
	result, err := g.call(ctx, backend, messages, systemPrompt)
	if err != nil {
		return "", err
	}
	if result.FunctionCall != nil {
		slog.Warn("unexpected function call during summarization, ignoring",
			"provider", backend.Name(),
			"function", result.FunctionCall.Name)
	}
	return result.Text, nil
}

func (g *Gateway) backend(provider string) (Backend, error) {
	name := strings.TrimSpace(strings.ToLower(provider))
	if name == "" {
		name = g.defaultProvider
	}
	backend, ok := g.backends[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return backend, nil
}

// call issues one backend request through the fixed retry policy and
// records token usage telemetry.
func (g *Gateway) call(ctx context.Context, backend Backend, messages []Message, systemPrompt string) (*Result, error) {
	result, err := retry.Do(ctx, backend.Name()+" generate", g.policy, func(ctx context.Context) (*Result, error) {
		return backend.GenerateText(ctx, messages, systemPrompt, g.schema)
	})
	if err != nil {
		return nil, err
	}
	if result.Usage != nil {
		slog.Info("token usage",
			"provider", backend.Name(),
			"prompt_tokens", result.Usage.PromptTokens,
			"completion_tokens", result.Usage.CompletionTokens,
			"total_tokens", result.Usage.TotalTokens)
	}
	return result, nil
}

func (g *Gateway) invoke(ctx context.Context, call *FunctionCall) string {
	if g.invoker == nil {
		return "Search service is currently unavailable."
	}
	return g.invoker.Invoke(ctx, call.Name, call.Arguments)
}

// flattenTranscript renders messages as "ROLE: content" lines for the
// summarization prompt, skipping turns without content.
func flattenTranscript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(msg.Role), msg.Content))
	}
	return strings.Join(lines, "\n")
}
