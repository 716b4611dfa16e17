package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/eternisai/enchanted-chat/internal/genai"
)

// Registry manages available tools.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Declarations returns provider-compatible declarations for all registered tools.
func (r *Registry) Declarations() []genai.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	declarations := make([]genai.ToolDeclaration, 0, len(r.tools))
	for _, tool := range r.tools {
		declarations = append(declarations, tool.Declaration())
	}

	return declarations
}

// Run executes the named tool. Unknown names report genai.ErrToolNotRegistered
// so callers can distinguish a missing tool from a failing one.
func (r *Registry) Run(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", genai.ErrToolNotRegistered, name)
	}
	return tool.Execute(ctx, args)
}

// List returns names of all registered tools.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	return names
}
