// Package tools implements the callable tools exposed to the LLM during
// tool-assisted chat: weather, web search, translation, mail, a
// calculator, and search over the indexed corpus.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minhdn/ragserve/internal/errors"
	"github.com/minhdn/ragserve/internal/llm"
)

// schema builds a function ToolDef from an inline JSON-schema literal.
func schema(name, description, parameters string) llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(parameters),
		},
	}
}

// Tool is one callable function. Arguments arrive as the raw JSON the
// model produced; results are plain text fed back into the conversation.
type Tool interface {
	Name() string
	Definition() llm.ToolDef
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the available tools in registration order.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering the same name twice replaces the
// earlier tool.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns the tool schemas in registration order, ready to be
// sent with a chat request.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Call runs the named tool. Unknown tools and tool failures both come
// back as structured errors so the chat loop can report them to the model
// instead of crashing the turn.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", errors.New(errors.ErrCodeToolFailed, fmt.Sprintf("unknown tool %q", name), nil)
	}

	start := time.Now()
	result, err := tool.Call(ctx, args)
	if err != nil {
		r.logger.Warn("tool_call_failed",
			slog.String("tool", name),
			slog.String("error", err.Error()))
		if errors.GetCode(err) != "" {
			return "", err
		}
		return "", errors.New(errors.ErrCodeToolFailed, fmt.Sprintf("tool %s failed", name), err)
	}

	r.logger.Debug("tool_call",
		slog.String("tool", name),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}
