package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_NilSchemaAlwaysPasses(t *testing.T) {
	v := New()
	require.NoError(t, v.Validate(nil, map[string]any{"anything": true}))
}

func TestValidate_ArgumentsMatchingSchemaPass(t *testing.T) {
	v := New()
	schema := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	require.NoError(t, v.Validate(schema, map[string]any{"path": "/tmp/x"}))
}

func TestValidate_MissingRequiredFieldFails(t *testing.T) {
	v := New()
	schema := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	err := v.Validate(schema, map[string]any{})
	require.Error(t, err)
}

func TestValidate_WrongTypeFails(t *testing.T) {
	v := New()
	schema := json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}}}`)
	err := v.Validate(schema, map[string]any{"count": "not-a-number"})
	require.Error(t, err)
}

func TestValidate_InvalidSchemaItselfFails(t *testing.T) {
	v := New()
	err := v.Validate(json.RawMessage(`{"type":`), map[string]any{})
	require.Error(t, err)
}

func TestValidate_ReusesCompiledSchemaAcrossCalls(t *testing.T) {
	v := New()
	schema := json.RawMessage(`{"type":"object","required":["x"]}`)
	require.Error(t, v.Validate(schema, map[string]any{}))
	require.NoError(t, v.Validate(schema, map[string]any{"x": 1}))
	require.Len(t, v.cache, 1)
}
