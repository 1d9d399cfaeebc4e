package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// RowValidator checks decoded rows against the row schema compiled once.
type RowValidator struct {
	schema *jsonschema.Schema
}

func NewRowValidator() (*RowValidator, error) {
	schema, err := compileSchema(BuildRowJSONSchema())
	if err != nil {
		return nil, err
	}
	return &RowValidator{schema: schema}, nil
}

// Validate returns nil when row satisfies the schema.
func (v *RowValidator) Validate(row map[string]any) error {
	if err := v.schema.Validate(row); err != nil {
		return fmt.Errorf("row does not match schema: %w", err)
	}
	return nil
}
