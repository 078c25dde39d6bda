package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// structuredSchema describes the accepted top-level shapes. Per-entry field checks are done
// while parsing so a single bad entry is a warning rather than a failure.
const structuredSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "cookies": {"type": "array", "items": {"type": "object"}}
  },
  "oneOf": [
    {"$ref": "#/definitions/cookies"},
    {
      "type": "object",
      "required": ["cookies"],
      "properties": {"cookies": {"$ref": "#/definitions/cookies"}}
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(structuredSchema))
	})
	return schema, schemaErr
}

// checkStructuredShape validates the document against the structured bundle schema
func checkStructuredShape(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile bundle schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(errorMessages, "; "))
	}
	return nil
}
