package plugins

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidManifest is wrapped by every manifest parse or schema failure
	ErrInvalidManifest = errors.New("invalid plugin manifest")

	// ErrMissingFile is wrapped when a file the manifest declares is absent
	ErrMissingFile = errors.New("missing required file")

	// ErrArchiveIntegrity is wrapped when an archive is unreadable or lacks a required entry
	ErrArchiveIntegrity = errors.New("archive integrity failure")

	// ErrChecksumMismatch is wrapped when the recomputed digest disagrees with metadata.json
	ErrChecksumMismatch = errors.New("package checksum mismatch")

	// ErrMetadataInconsistent is wrapped when metadata.json disagrees with plugin.json
	ErrMetadataInconsistent = errors.New("package metadata inconsistent with manifest")
)

// ManifestParseError reports a manifest that is not valid JSON
type ManifestParseError struct {
	Source string
	Err    error
}

func (e *ManifestParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: invalid JSON: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("manifest: invalid JSON: %v", e.Err)
}

func (e *ManifestParseError) Unwrap() []error { return []error{ErrInvalidManifest, e.Err} }

// SchemaValidationError carries every schema violation found in a manifest
type SchemaValidationError struct {
	Errors []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("manifest failed schema validation: %s", strings.Join(e.Errors, "; "))
}

func (e *SchemaValidationError) Unwrap() error { return ErrInvalidManifest }

// MissingRequiredFileError reports a manifest-declared file that does not exist
type MissingRequiredFileError struct {
	Field string // manifest field declaring the file, empty for fixed entries
	Path  string
}

func (e *MissingRequiredFileError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: required file not found", e.Path)
	}
	return fmt.Sprintf("%s: file %q not found", e.Field, e.Path)
}

func (e *MissingRequiredFileError) Unwrap() error { return ErrMissingFile }

// ArchiveIntegrityError reports an archive that cannot be read or lacks a required entry
type ArchiveIntegrityError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArchiveIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ArchiveIntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArchiveIntegrity}
	}
	return []error{ErrArchiveIntegrity, e.Err}
}

// ChecksumMismatchError reports a package whose content no longer matches its recorded digest
type ChecksumMismatchError struct {
	Expected string
	Actual   string
	Damaged  []string // entries that failed their CRC while reading
}

func (e *ChecksumMismatchError) Error() string {
	if e.Expected == e.Actual && len(e.Damaged) > 0 {
		return fmt.Sprintf("checksum: mismatch: stored CRC does not match content of %s", strings.Join(e.Damaged, ", "))
	}
	msg := fmt.Sprintf("checksum: mismatch: metadata records %s but content hashes to %s", e.Expected, e.Actual)
	if len(e.Damaged) > 0 {
		msg += fmt.Sprintf(" (damaged entries: %s)", strings.Join(e.Damaged, ", "))
	}
	return msg
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// MetadataConsistencyError reports one metadata field that disagrees with the manifest
type MetadataConsistencyError struct {
	Field         string
	MetadataValue string
	ManifestValue string
}

func (e *MetadataConsistencyError) Error() string {
	return fmt.Sprintf("metadata.%s: %q does not match manifest %s %q", e.Field, e.MetadataValue, e.Field, e.ManifestValue)
}

func (e *MetadataConsistencyError) Unwrap() error { return ErrMetadataInconsistent }

// IsInvalidManifestError checks if the error is or wraps ErrInvalidManifest
func IsInvalidManifestError(err error) bool {
	return errors.Is(err, ErrInvalidManifest)
}

// IsMissingFileError checks if the error is or wraps ErrMissingFile
func IsMissingFileError(err error) bool {
	return errors.Is(err, ErrMissingFile)
}

// IsArchiveIntegrityError checks if the error is or wraps ErrArchiveIntegrity
func IsArchiveIntegrityError(err error) bool {
	return errors.Is(err, ErrArchiveIntegrity)
}

// IsChecksumMismatchError checks if the error is or wraps ErrChecksumMismatch
func IsChecksumMismatchError(err error) bool {
	return errors.Is(err, ErrChecksumMismatch)
}

// IsMetadataInconsistentError checks if the error is or wraps ErrMetadataInconsistent
func IsMetadataInconsistentError(err error) bool {
	return errors.Is(err, ErrMetadataInconsistent)
}
