package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ParseManifest decodes plugin.json content. It only checks that the content
// is a JSON object; fields of the wrong type are left zero and are reported
// by ValidateManifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestParseError{Err: err}
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, &ManifestParseError{Err: fmt.Errorf("top-level value must be an object")}
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, &ManifestParseError{Err: err}
		}
	}
	return &manifest, nil
}

// LoadManifest reads and parses a manifest from disk. The file is read on
// every call.
func LoadManifest(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		var parseErr *ManifestParseError
		if errors.As(err, &parseErr) {
			parseErr.Source = path
		}
		return nil, data, err
	}
	return manifest, data, nil
}
