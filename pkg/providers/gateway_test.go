package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/chatpilot/pkg/retry"
)

// scriptedBackend returns canned results in order and records what it was
// called with.
type scriptedBackend struct {
	name    string
	results []*Result
	err     error
	calls   [][]Message
	prompts []string
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) GenerateText(ctx context.Context, messages []Message, systemPrompt string, schema *FunctionSchema) (*Result, error) {
	b.calls = append(b.calls, messages)
	b.prompts = append(b.prompts, systemPrompt)
	if b.err != nil {
		return nil, b.err
	}
	idx := len(b.calls) - 1
	if idx >= len(b.results) {
		idx = len(b.results) - 1
	}
	return b.results[idx], nil
}

type recordingInvoker struct {
	name   string
	args   map[string]interface{}
	output string
}

func (inv *recordingInvoker) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	inv.name = name
	inv.args = args
	return inv.output
}

func noDelay() retry.Policy {
	return retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestGateway_GenerateWithoutToolCall(t *testing.T) {
	backend := &scriptedBackend{name: "openai", results: []*Result{{Text: "plain answer"}}}
	g := NewGateway("openai", &recordingInvoker{}, searchSchema(), backend)

	text, updated, err := g.Generate(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, "sys", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "plain answer" {
		t.Errorf("text = %q", text)
	}
	if len(backend.calls) != 1 {
		t.Errorf("backend calls = %d, want 1", len(backend.calls))
	}
	if len(updated) != 1 {
		t.Errorf("updated = %d messages, want original 1", len(updated))
	}
}

func TestGateway_BoundedToolRoundTrip(t *testing.T) {
	backend := &scriptedBackend{
		name: "openai",
		results: []*Result{
			{FunctionCall: &FunctionCall{Name: "web_search", Arguments: map[string]interface{}{"query": "news"}}},
			{Text: "based on the search, here it is"},
		},
	}
	invoker := &recordingInvoker{output: "Search results:\n\n**1. Thing**"}
	g := NewGateway("openai", invoker, searchSchema(), backend)

	text, updated, err := g.Generate(context.Background(),
		[]Message{{Role: RoleUser, Content: "what's new?"}}, "sys", "openai")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "based on the search, here it is" {
		t.Errorf("text = %q", text)
	}
	if len(backend.calls) != 2 {
		t.Fatalf("backend calls = %d, want exactly 2", len(backend.calls))
	}
	if invoker.name != "web_search" || invoker.args["query"] != "news" {
		t.Errorf("invoker got %q %v", invoker.name, invoker.args)
	}

	// The synthetic turns are appended for the second call and returned.
	if len(updated) != 3 {
		t.Fatalf("updated = %d messages, want 3", len(updated))
	}
	if updated[1].Role != RoleAssistant || updated[1].FunctionCall == nil {
		t.Errorf("turn 1 = %+v, want assistant function-call record", updated[1])
	}
	if updated[2].Role != RoleFunction || updated[2].Content != invoker.output {
		t.Errorf("turn 2 = %+v, want function result", updated[2])
	}
}

func TestGateway_SecondPassToolCallIgnored(t *testing.T) {
	backend := &scriptedBackend{
		name: "openai",
		results: []*Result{
			{FunctionCall: &FunctionCall{Name: "web_search", Arguments: map[string]interface{}{"query": "a"}}},
			{FunctionCall: &FunctionCall{Name: "web_search", Arguments: map[string]interface{}{"query": "b"}}},
		},
	}
	g := NewGateway("openai", &recordingInvoker{output: "results"}, searchSchema(), backend)

	text, _, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "sys", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(backend.calls) != 2 {
		t.Errorf("backend calls = %d, want 2 even when the second pass asks again", len(backend.calls))
	}
	if text != "" {
		t.Errorf("text = %q, want the second pass's (empty) text", text)
	}
}

func TestGateway_UnknownProvider(t *testing.T) {
	backend := &scriptedBackend{name: "openai", results: []*Result{{Text: "x"}}}
	g := NewGateway("openai", nil, nil, backend)

	_, _, err := g.Generate(context.Background(), nil, "sys", "claude")
	if err == nil || !strings.Contains(err.Error(), "unsupported provider: claude") {
		t.Errorf("err = %v, want unsupported provider", err)
	}
	if len(backend.calls) != 0 {
		t.Error("no backend should be called for an unknown provider")
	}
}

func TestGateway_EmptyProviderUsesDefault(t *testing.T) {
	openai := &scriptedBackend{name: "openai", results: []*Result{{Text: "from openai"}}}
	gemini := &scriptedBackend{name: "gemini", results: []*Result{{Text: "from gemini"}}}
	g := NewGateway("gemini", nil, nil, openai, gemini)

	text, _, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "sys", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "from gemini" {
		t.Errorf("text = %q, want the default provider's answer", text)
	}
}

func TestGateway_SummarizeMergesPreviousSummary(t *testing.T) {
	backend := &scriptedBackend{name: "openai", results: []*Result{{Text: "merged summary"}}}
	g := NewGateway("openai", nil, nil, backend)

	summary := g.Summarize(context.Background(),
		[]Message{{Role: RoleUser, Content: "old question"}}, "previously: cats", "openai")
	if summary != "merged summary" {
		t.Errorf("summary = %q", summary)
	}

	prompt := backend.calls[0][0].Content
	if !strings.Contains(prompt, "previously: cats") {
		t.Errorf("summarization prompt missing previous summary: %q", prompt)
	}
	if !strings.Contains(prompt, "USER: old question") {
		t.Errorf("summarization prompt missing transcript: %q", prompt)
	}
	if backend.prompts[0] != summarySystemPrompt {
		t.Errorf("system prompt = %q", backend.prompts[0])
	}
}

func TestGateway_SummarizeFallbackNeverFails(t *testing.T) {
	backend := &scriptedBackend{name: "openai", err: errors.New("backend down")}
	g := NewGateway("openai", nil, nil, backend)
	g.policy = noDelay()

	messages := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}

	got := g.Summarize(context.Background(), messages, "", "openai")
	if got != "Previous conversation covered 3 messages." {
		t.Errorf("fallback = %q", got)
	}

	got = g.Summarize(context.Background(), messages, "earlier summary", "openai")
	if got != "earlier summary\n\nAdditional 3 messages discussed." {
		t.Errorf("merge fallback = %q", got)
	}
}

func TestGateway_SummarizeDiscardsFunctionCall(t *testing.T) {
	backend := &scriptedBackend{
		name:    "openai",
		results: []*Result{{Text: "summary text", FunctionCall: &FunctionCall{Name: "web_search"}}},
	}
	g := NewGateway("openai", nil, nil, backend)

	got := g.Summarize(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "", "")
	if got != "summary text" {
		t.Errorf("summary = %q, want the text with the function call discarded", got)
	}
}
