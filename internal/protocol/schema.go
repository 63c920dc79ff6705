package protocol

import (
	_ "embed"

	"github.com/xeipuuv/gojsonschema"
)

// Canonical decision schema. Kept permissive (optional args fields covering
// every action) because strict oneOf shapes are rejected by the Responses
// API JSON mode; structural requirements per action are enforced in Parse.
//
//go:embed decision_schema.json
var decisionSchemaJSON string

// DecisionSchema returns the JSON schema text for the decision contract,
// embedded into the system prompt so the model sees the exact shape.
func DecisionSchema() string {
	return decisionSchemaJSON
}

// validateShape checks the decoded response against the decision schema.
// Returns a human-readable reason on failure, empty string otherwise.
func validateShape(raw []byte) string {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(decisionSchemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return "response is not a JSON object"
	}
	if result.Valid() {
		return ""
	}
	reason := "response does not match the decision schema"
	if errs := result.Errors(); len(errs) > 0 {
		reason += ": " + errs[0].String()
	}
	return reason
}
