package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a JSON Schema from a Go input struct. Fields are
// required unless tagged omitempty; descriptions come from
// jsonschema_description tags.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// SchemaMap renders a schema as a plain map for providers that take
// free-form JSON (Ollama function parameters).
func SchemaMap(schema *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	// Draft and id annotations are noise to a model.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
