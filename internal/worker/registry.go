package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownTool is returned when no tool is registered under the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// ToolFunc implements one named transformation.
type ToolFunc func(ctx context.Context, inputPath string, params map[string]interface{}, report ProgressFunc) (*Result, error)

// Registry dispatches over the tool name through a lookup table. Tools are
// registered by the embedding service at startup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ToolFunc
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]ToolFunc),
		logger: logger,
	}
}

// Register adds or replaces the tool under name.
func (r *Registry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[name] = fn
	r.logger.Debug("Tool registered",
		slog.String("tool_name", name),
	)
}

// Tools returns the names of all registered tools.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Process looks up the tool and runs it.
func (r *Registry) Process(ctx context.Context, toolName, inputPath string, params map[string]interface{}, report ProgressFunc) (*Result, error) {
	r.mu.RLock()
	fn, ok := r.tools[toolName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	if report == nil {
		report = func(int, string) {}
	}
	return fn(ctx, inputPath, params, report)
}
