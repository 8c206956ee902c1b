package tools

import (
	"coyote/backend/internal/adapter"
)

// JSONSchema captures the subset of JSON Schema used for tool parameters
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// ToolSpec describes a tool to the model: a unique name, a description and
// the parameter contract. Specs are fixed at process start.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *JSONSchema
}

// Definition converts a ToolSpec to the function-calling shape the model adapter sends
func (s ToolSpec) Definition() adapter.Tool {
	params := s.Parameters
	if params == nil {
		params = noParams()
	}
	return adapter.Tool{
		Type: "function",
		Function: adapter.FunctionDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  params,
		},
	}
}

// Definitions converts a catalogue for the model adapter, keeping order
func Definitions(specs []ToolSpec) []adapter.Tool {
	defs := make([]adapter.Tool, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, spec.Definition())
	}
	return defs
}

func noParams() *JSONSchema {
	return &JSONSchema{Type: "object", Properties: map[string]interface{}{}}
}

func property(typ, description string) map[string]interface{} {
	p := map[string]interface{}{"type": typ}
	if description != "" {
		p["description"] = description
	}
	return p
}

func propertyWithDefault(typ, description string, def interface{}) map[string]interface{} {
	p := property(typ, description)
	p["default"] = def
	return p
}
