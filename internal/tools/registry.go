// Package tools holds the named capabilities a model can invoke during the
// tool-use conversation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports an unknown tool or an unknown lookup key inside a tool.
var ErrNotFound = errors.New("not found")

// Tool is a named capability. The description is shown to the model verbatim.
type Tool interface {
	Name() string
	Description() string
	// Invoke runs the tool. input is either a decoded JSON object
	// (map[string]any) or a plain string.
	Invoke(ctx context.Context, input any) (string, error)
}

// Registry keeps tools in registration order.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools = append(r.tools, t)
	r.byName[name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[strings.TrimSpace(name)]
	return t, ok
}

// Call invokes the named tool. An unknown name returns an error wrapping ErrNotFound.
func (r *Registry) Call(ctx context.Context, name string, input any) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("tool %s %w, available tools: %s", name, ErrNotFound, r.Names())
	}
	return t.Invoke(ctx, input)
}

// Descriptions renders one "- Name: Description" line per tool.
func (r *Registry) Descriptions() string {
	lines := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		lines = append(lines, "- "+t.Name()+": "+t.Description())
	}
	return strings.Join(lines, "\n")
}

// Names returns the comma separated tool names.
func (r *Registry) Names() string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	return strings.Join(names, ", ")
}
