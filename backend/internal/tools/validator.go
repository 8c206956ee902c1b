package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	apperrors "coyote/backend/pkg/errors"
)

// Validator validates tool arguments before execution
type Validator interface {
	Validate(args map[string]interface{}, schema *JSONSchema) error
}

// DefaultValidator covers required fields and primitive type checks
type DefaultValidator struct{}

// Validate ensures that args satisfy the schema
func (DefaultValidator) Validate(args map[string]interface{}, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	for _, field := range schema.Required {
		if _, exists := args[field]; !exists {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	for key, value := range args {
		def, ok := schema.Properties[key].(map[string]interface{})
		if !ok {
			continue
		}
		expected, _ := def["type"].(string)
		if expected == "" {
			continue
		}
		if err := validateType(value, expected); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}

	return nil
}

func validateType(value interface{}, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if _, ok := value.(float64); ok {
			return nil
		}
	case "integer":
		if f, ok := value.(float64); ok && math.Trunc(f) == f {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]interface{}); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]interface{}); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %s", expected, jsonKind(value))
}

func jsonKind(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

// ParseArguments decodes a model-supplied argument document. An empty document
// means no arguments; anything but a JSON object is rejected.
func ParseArguments(toolName string, raw json.RawMessage) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]interface{}{}, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, apperrors.NewToolInvalidArguments(toolName, "arguments are not a JSON object")
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
