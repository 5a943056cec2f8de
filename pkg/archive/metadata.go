package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// PackageMetadata is the metadata.json record appended as the last entry of
// every package. Checksum covers the archive without this entry.
type PackageMetadata struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Author      string    `json:"author"`
	License     string    `json:"license,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Checksum    string    `json:"checksum"`
	Files       []string  `json:"files"`
}

// MetadataSchema is the JSON Schema metadata.json must satisfy
const MetadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "name", "checksum"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "license": {"type": "string"},
    "createdAt": {"type": "string", "format": "date-time"},
    "checksum": {"type": "string", "pattern": "^[a-f0-9]{64}$"},
    "files": {"type": "array", "items": {"type": "string"}}
  }
}`

var metadataSchema = mustCompileSchema(MetadataSchema)

func mustCompileSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("archive: invalid embedded schema: %v", err))
	}
	return s
}

// Marshal encodes the metadata as indented JSON
func (m *PackageMetadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseMetadata decodes metadata.json. Content that is not a JSON object is
// an error wrapping ErrInvalidMetadata. Schema violations, such as a missing
// checksum, are returned as problems alongside whatever could be decoded.
func ParseMetadata(data []byte) (*PackageMetadata, []string, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: top-level value must be an object", ErrInvalidMetadata)
	}

	result, err := metadataSchema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var problems []string
	for _, re := range result.Errors() {
		problems = append(problems, formatSchemaError(re))
	}

	var meta PackageMetadata
	if err := json.Unmarshal(data, &meta); err != nil && len(problems) == 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return &meta, problems, nil
}

func formatSchemaError(re gojsonschema.ResultError) string {
	if re.Field() == "(root)" || re.Field() == "" {
		return re.Description()
	}
	return fmt.Sprintf("%s: %s", re.Field(), re.Description())
}
