// Package tools defines the invocable tool contract and the tool registry.
package tools

import "context"

// Param describes a single tool parameter for model consumption.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// Schema is the model-facing description of a tool.
type Schema struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters"`
}

// Result holds a tool's outcome. On the happy path exactly one of Output
// and Error is non-empty; both may coexist after a partial failure.
type Result struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Tool is a named invocable operation with a declared schema.
type Tool interface {
	Name() string
	Schema() Schema
	Execute(ctx context.Context, args map[string]string) Result
}

// Registry holds tools by name, preserving registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas exports every registered tool's schema in registration order.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.order))
	for _, t := range r.List() {
		out = append(out, t.Schema())
	}
	return out
}
