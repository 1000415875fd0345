package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownTool is returned by Validate for names missing from the registry.
var ErrUnknownTool = errors.New("unknown tool")

// Definition is one callable operation offered to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  Schema
}

// Registry is an immutable, insertion-ordered catalog of tool definitions.
// It is safe for concurrent use once built.
type Registry struct {
	defs    []Definition
	index   map[string]int
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry builds a registry, rejecting empty or duplicate names and
// schemas that do not compile.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		defs:    make([]Definition, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
		schemas: make(map[string]*gojsonschema.Schema, len(defs)),
	}
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name is empty")
		}
		if _, exists := r.index[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		for _, req := range def.Parameters.Required {
			if _, ok := def.Parameters.Param(req); !ok {
				return nil, fmt.Errorf("tool %s: required parameter %s is not declared", name, req)
			}
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters.JSONSchema()))
		if err != nil {
			return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
		}
		def.Name = name
		r.index[name] = len(r.defs)
		r.defs = append(r.defs, def)
		r.schemas[name] = compiled
	}
	return r, nil
}

// List returns the definitions in insertion order.
func (r *Registry) List() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns tool names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) Len() int { return len(r.defs) }

// Validate checks an argument object against the declared schema of name.
func (r *Registry) Validate(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate %s arguments: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, len(result.Errors()))
	for i, e := range result.Errors() {
		msgs[i] = e.String()
	}
	return fmt.Errorf("invalid arguments for %s: %s", name, strings.Join(msgs, "; "))
}
