package providers

import "context"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Roles used on gateway messages. RoleSystem never appears inside the
// message sequence itself; the system prompt travels separately and each
// backend injects it in its own wire shape. RoleFunction marks the
// synthetic turn carrying a tool result back to the model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message is one turn in the conversation handed to a backend.
type Message struct {
	Role         string
	Content      string
	Name         string        // tool name, set on function-result turns
	FunctionCall *FunctionCall // set on the assistant turn that requested the call
}

// FunctionCall is the normalized tool invocation request a backend may
// return instead of text. It exists only within one Generate invocation.
type FunctionCall struct {
	Name      string
	Arguments map[string]interface{}
}

// FunctionSchema declares a tool once in a provider-neutral shape. Each
// backend translates it into its own type vocabulary at call time.
type FunctionSchema struct {
	Name        string
	Description string
	Parameters  SchemaObject
}

type SchemaObject struct {
	Type       string
	Properties map[string]SchemaProperty
	Required   []string
}

type SchemaProperty struct {
	Type        string
	Description string
}

// Usage is the normalized token accounting both backends expose under
// different field names. Counted for telemetry only, never enforced.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the normalized backend response: text, or exactly one
// function call with empty text, by contract of both backends modeled.
type Result struct {
	Text         string
	FunctionCall *FunctionCall
	Usage        *Usage
}

// Backend is the capability each wire-protocol variant implements.
// Normalization of the backend-specific response shape happens inside the
// implementation; backend types never leak upward.
type Backend interface {
	Name() string
	GenerateText(ctx context.Context, messages []Message, systemPrompt string, schema *FunctionSchema) (*Result, error)
}

// ToolInvoker executes a requested function call. It always produces
// consumable text: failures are absorbed into sentinel messages.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) string
}
