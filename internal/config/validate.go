package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Raw settings are vetted against this schema before unmarshaling, so a
// misspelled key or wrong-typed value is rejected instead of silently
// falling back to a default.
//
//go:embed schema.json
var schemaJSON string

// ValidateSettings checks the raw settings map, as read from the config
// file, against the embedded schema. Every violation is reported at once,
// in stable order.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, v := range result.Errors() {
		violations = append(violations, v.String())
	}
	sort.Strings(violations)
	return fmt.Errorf("invalid config: %s", strings.Join(violations, "; "))
}
