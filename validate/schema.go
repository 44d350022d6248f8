// Package validate provides schema and semantic validation for the slipway
// manifest.
package validate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/initializ/slipway/schemas"
)

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		loader := gojsonschema.NewBytesLoader(schemas.ManifestV1Schema)
		compiledSchema, compileErr = gojsonschema.NewSchema(loader)
	})
	return compiledSchema, compileErr
}

// ValidateManifestJSON validates raw JSON bytes against the manifest schema.
// It returns a slice of validation error descriptions and an error if schema
// compilation or validation itself fails.
func ValidateManifestJSON(jsonData []byte) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling manifest schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// ValidateManifestYAML converts manifest YAML to JSON and validates it
// against the schema.
func ValidateManifestYAML(yamlData []byte) ([]string, error) {
	var doc any
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest yaml: %w", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting manifest to json: %w", err)
	}
	return ValidateManifestJSON(jsonData)
}
