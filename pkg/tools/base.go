package tools

import (
	"context"

	"github.com/dotsetgreg/chatpilot/pkg/providers"
)

// Tool is the interface every callable function implements. Execute must
// always return a result with LLM-consumable text; failures are reported
// through IsError, never raised.
type Tool interface {
	Name() string
	Description() string
	Schema() *providers.FunctionSchema
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ToolResult carries the formatted text handed back to the model.
type ToolResult struct {
	ForLLM  string
	IsError bool
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}
