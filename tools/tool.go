// Package tools declares the tools offered to the chat model.
//
// Includes:
//   - Definition: name, description and JSON input schema of a tool.
//   - GenerateSchema[T](): derive JSON Schema from Go input structs.
//   - save_memory_record: the single tool the memory agent exposes, and the
//     validation of its arguments.
package tools

import (
	"errors"

	"github.com/invopop/jsonschema"
)

// ErrInvalidArguments is returned when a tool call's arguments do not
// satisfy the tool's declared contract.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Definition describes a tool to the model. Execution is owned by the engine,
// which injects arguments the model never sees (user id, store handle).
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Parameters returns the input schema as a plain map.
func (d Definition) Parameters() map[string]any {
	return SchemaMap(d.InputSchema)
}
