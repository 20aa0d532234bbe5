// Package toolschema validates a tool call's arguments against its
// definition's JSON Schema parameters before dispatch (SPEC_FULL.md A3),
// so a malformed call fails fast as a tool-level error instead of reaching
// a provider's own argument decoding.
//
// Grounded on runtime/registry/service.go's validatePayloadJSONAgainstSchema
// (compile-then-Validate shape over github.com/santhosh-tekuri/jsonschema)
// and haasonsaas-nexus's pluginsdk.compileSchema (compiled-schema cache
// keyed by the raw schema bytes, since the same tool.Definition is
// validated against repeatedly across many calls in a turn loop).
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentforge/core/toolerr"
)

// Validator compiles and caches tool.Definition.Parameters schemas,
// validating call arguments against them.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New returns a ready-to-use Validator.
func New() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against schema (a JSON Schema object document). A
// nil or empty schema means "no constraints" and always passes, matching
// tool.Definition.Parameters' documented nil-means-unvalidated contract.
// A schema compile failure or a validation failure both return a
// non-retryable toolerr.ToolError, since neither is fixed by retrying the
// same call unchanged.
func (v *Validator) Validate(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return toolerr.Errorf("tool arguments schema is invalid: %v", err)
	}

	// jsonschema validates against decoded any values, not Go structs;
	// round-trip args through JSON so numeric/nested-map representations
	// match what a wire-decoded payload would look like.
	payload, err := json.Marshal(args)
	if err != nil {
		return toolerr.Errorf("encode tool arguments: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return toolerr.Errorf("decode tool arguments: %v", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return toolerr.Errorf("tool arguments do not match schema: %v", err)
	}
	return nil
}

func (v *Validator) compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-arguments.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("tool-arguments.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}
