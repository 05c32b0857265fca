package toolsurface

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// generateSchema derives a JSON Schema document for v from its struct tags,
// the way every tool in this package advertises its parameter shape to a
// provider.
func generateSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := r.Reflect(v)
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// validator wraps a compiled v5 schema so Execute can reject malformed
// arguments before they reach a tool's business logic.
type validator struct {
	schema *jsonschemav5.Schema
}

func newValidator(schema json.RawMessage) (*validator, error) {
	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("toolsurface: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("toolsurface: compile schema: %w", err)
	}
	return &validator{schema: compiled}, nil
}

func (v *validator) validate(params json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.schema.Validate(doc)
}
