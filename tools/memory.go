package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SaveMemoryToolName is the name the model uses to request a memory write.
const SaveMemoryToolName = "save_memory_record"

// SaveMemoryInput is the model-visible argument set of save_memory_record.
// user_id and the store are injected by the engine and are not part of it.
type SaveMemoryInput struct {
	Content  string `json:"content" jsonschema_description:"Main content of the memory, such as a user preference."`
	Context  string `json:"context" jsonschema_description:"Additional context for when or how the memory was collected."`
	RecordID string `json:"record_id,omitempty" jsonschema:"format=uuid" jsonschema_description:"Identifier of an existing memory to update. Omit to create a new memory."`
}

// SaveMemoryDefinition is the save_memory_record tool.
var SaveMemoryDefinition = Definition{
	Name: SaveMemoryToolName,
	Description: `Create or update a stored memory record about the user.

Use it for facts worth remembering across conversations: preferences, personal details, ongoing projects.
Pass record_id to overwrite an existing memory instead of creating a new one.`,
	InputSchema: GenerateSchema[SaveMemoryInput](),
}

// ParseSaveMemoryInput decodes and validates save_memory_record arguments.
// content and context are required; record_id, when present, must be a UUID
// and is returned in canonical form.
func ParseSaveMemoryInput(raw json.RawMessage) (SaveMemoryInput, error) {
	var fields struct {
		Content  *string `json:"content"`
		Context  *string `json:"context"`
		RecordID *string `json:"record_id"`
	}
	if len(raw) == 0 {
		return SaveMemoryInput{}, fmt.Errorf("%w: empty arguments", ErrInvalidArguments)
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SaveMemoryInput{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if fields.Content == nil || strings.TrimSpace(*fields.Content) == "" {
		return SaveMemoryInput{}, fmt.Errorf("%w: content is required", ErrInvalidArguments)
	}
	if fields.Context == nil {
		return SaveMemoryInput{}, fmt.Errorf("%w: context is required", ErrInvalidArguments)
	}

	in := SaveMemoryInput{
		Content: *fields.Content,
		Context: *fields.Context,
	}

	if fields.RecordID != nil && *fields.RecordID != "" {
		id, err := uuid.Parse(*fields.RecordID)
		if err != nil {
			return SaveMemoryInput{}, fmt.Errorf("%w: record_id %q is not a UUID", ErrInvalidArguments, *fields.RecordID)
		}
		in.RecordID = id.String()
	}

	return in, nil
}
