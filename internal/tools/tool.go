package tools

import (
	"context"

	"github.com/eternisai/enchanted-chat/internal/genai"
)

// Tool defines the interface for executable tools that the model can call.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Declaration returns the provider-compatible function declaration
	Declaration() genai.ToolDeclaration

	// Execute runs the tool with the given arguments.
	// Returns a formatted result string for model consumption.
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}
