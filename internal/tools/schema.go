package tools

// Property describes one named tool parameter.
type Property struct {
	Name        string
	Type        string // JSON type: "string", "number", "boolean"
	Description string
	Enum        []string
}

// Schema is the argument object of a tool. Properties keep declaration order
// so the rendered JSON schema is stable across runs.
type Schema struct {
	Properties []Property
	Required   []string
}

// String is shorthand for a string property.
func String(name, description string) Property {
	return Property{Name: name, Type: "string", Description: description}
}

// Param returns the property with the given name.
func (s Schema) Param(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// IsRequired reports whether name is listed in Required.
func (s Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// JSONSchema renders the schema as a JSON-schema object, the shape both
// completion providers and the validator expect.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		props[p.Name] = prop
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		required := make([]any, len(s.Required))
		for i, r := range s.Required {
			required[i] = r
		}
		out["required"] = required
	}
	return out
}
