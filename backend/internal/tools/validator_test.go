package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coyote/backend/pkg/errors"
)

func TestDefaultValidator(t *testing.T) {
	schema := &JSONSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"title": property("string", ""),
			"days":  property("integer", ""),
			"ratio": property("number", ""),
			"flag":  property("boolean", ""),
		},
		Required: []string{"title"},
	}

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{name: "valid", args: map[string]interface{}{"title": "x", "days": float64(3), "ratio": 0.5, "flag": true}},
		{name: "unknown fields pass", args: map[string]interface{}{"title": "x", "extra": []interface{}{}}},
		{name: "missing required", args: map[string]interface{}{}, wantErr: "missing required field: title"},
		{name: "nil args", args: nil, wantErr: "missing required field: title"},
		{name: "fractional integer", args: map[string]interface{}{"title": "x", "days": 1.5}, wantErr: "field days"},
		{name: "string for number", args: map[string]interface{}{"title": "x", "ratio": "1"}, wantErr: "expected number but got string"},
		{name: "null for string", args: map[string]interface{}{"title": nil}, wantErr: "expected string but got null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultValidator{}.Validate(tt.args, schema)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultValidator_NilSchema(t *testing.T) {
	assert.NoError(t, DefaultValidator{}.Validate(map[string]interface{}{"a": 1}, nil))
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments("x", json.RawMessage(`{"count": 3}`))
	require.NoError(t, err)
	assert.Equal(t, float64(3), args["count"])

	for _, empty := range []string{"", "  ", "null", "{}"} {
		args, err := ParseArguments("x", json.RawMessage(empty))
		require.NoError(t, err, empty)
		assert.Empty(t, args)
		assert.NotNil(t, args)
	}

	for _, bad := range []string{`{"count": 3`, `[1,2]`, `"hello"`} {
		_, err := ParseArguments("gmail_recent", json.RawMessage(bad))
		failure, ok := apperrors.AsToolFailure(err)
		require.True(t, ok, bad)
		assert.Equal(t, apperrors.ToolInvalidArguments, failure.Kind)
	}
}
