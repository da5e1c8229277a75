package engine

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MustCompileParamsSchema compiles a params JSON schema at registration
// time. Panics on a bad schema so a broken registry fails at startup, not
// mid-tick.
func MustCompileParamsSchema(intentType, source string) *jsonschema.Schema {
	return jsonschema.MustCompileString(intentType+"_params.json", source)
}

// ValidateParams checks an intent's params against the registered schema.
// A nil schema means the intent type carries no declared shape.
func ValidateParams(schema *jsonschema.Schema, params Params) error {
	if schema == nil {
		return nil
	}
	doc := map[string]any(params)
	if doc == nil {
		doc = map[string]any{}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
