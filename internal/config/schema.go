package config

import (
	"bytes"
	"encoding/json"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "haya://config.schema.json"

var (
	schemaOnce     sync.Once
	schemaJSON     []byte
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

// JSONSchema returns the generated JSON Schema for haya.json.
func JSONSchema() ([]byte, error) {
	initSchema()
	return schemaJSON, schemaErr
}

func initSchema() {
	schemaOnce.Do(func() {
		r := &invopop.Reflector{
			FieldNameTag:               "json",
			RequiredFromJSONSchemaTags: true,
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
		if schemaErr != nil {
			return
		}
		compiler := jsonschema.NewCompiler()
		if schemaErr = compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); schemaErr != nil {
			return
		}
		schemaCompiled, schemaErr = compiler.Compile(schemaURL)
	})
}

// validateAgainstSchema checks the raw document before struct binding so the
// error names the offending field instead of a Go type mismatch.
func validateAgainstSchema(raw map[string]any) error {
	initSchema()
	if schemaErr != nil {
		return schemaErr
	}
	// Round-trip through encoding/json so YAML-sourced values (e.g. int)
	// take the shapes the validator expects.
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	return schemaCompiled.Validate(doc)
}
