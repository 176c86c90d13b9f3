package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Invoker executes function calls requested by a backend. It satisfies
// providers.ToolInvoker: whatever happens, the caller gets text. One
// failed tool call degrades answer quality but never aborts a turn.
type Invoker struct {
	tools map[string]Tool
}

func NewInvoker(registered ...Tool) *Invoker {
	inv := &Invoker{tools: make(map[string]Tool, len(registered))}
	for _, tool := range registered {
		if tool != nil {
			inv.tools[tool.Name()] = tool
		}
	}
	return inv
}

func (inv *Invoker) Get(name string) (Tool, bool) {
	tool, ok := inv.tools[name]
	return tool, ok
}

// Invoke runs the named tool and returns its formatted output. Unknown
// names yield a sentinel message rather than an error.
func (inv *Invoker) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	slog.Info("executing function", "function", name)

	tool, ok := inv.tools[name]
	if !ok {
		slog.Warn("unknown function requested", "function", name)
		return fmt.Sprintf("Unknown function: %s", name)
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("Function call failed: %s returned no result", name))
	}

	if result.IsError {
		slog.Warn("function execution degraded",
			"function", name,
			"duration", time.Since(start),
			"result", result.ForLLM)
	} else {
		slog.Info("function executed",
			"function", name,
			"duration", time.Since(start),
			"result_length", len(result.ForLLM))
	}
	return result.ForLLM
}
