// Package tools implements the capabilities the model may request: web
// search and Mermaid syntax validation.
package tools

import (
	"context"
	"encoding/json"

	"drawbridge/internal/llm"
)

// Tool is an externally implemented capability: a spec the model sees and an
// Invoke that turns structured arguments into a string result. Invoke errors
// are fed back to the model as tool results, never raised out of the loop.
type Tool interface {
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry is a closed name → Tool dispatch. The capability set is fixed at
// startup; there is no dynamic registration.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry over the given tools.
func NewRegistry(ts ...Tool) *Registry {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Spec().Name] = t
	}
	return &Registry{tools: m}
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
