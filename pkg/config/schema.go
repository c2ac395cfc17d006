package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// JSONSchema returns the JSON schema of the configuration file, for editor
// completion and validation of config.yaml.
func JSONSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		// Field names follow the YAML keys, not Go's json defaults
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "dittomount Configuration"
	schema.Description = "Configuration schema for dittomount"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}
