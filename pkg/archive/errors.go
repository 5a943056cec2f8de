package archive

import (
	"compress/flate"
	"errors"
)

var (
	// ErrNotArchive is returned when the bytes are not a readable zip
	ErrNotArchive = errors.New("not a readable package archive")

	// ErrTooLarge is returned when an archive exceeds the read limits
	ErrTooLarge = errors.New("package archive too large")

	// ErrDuplicateEntry is returned when an entry name is added twice
	ErrDuplicateEntry = errors.New("duplicate archive entry")

	// ErrInvalidEntryName is returned for names that sanitize to nothing
	ErrInvalidEntryName = errors.New("invalid archive entry name")

	// ErrInvalidMetadata is returned when metadata.json is not valid JSON
	ErrInvalidMetadata = errors.New("invalid package metadata")
)

// IsNotArchiveError checks if the error is or wraps ErrNotArchive
func IsNotArchiveError(err error) bool {
	return errors.Is(err, ErrNotArchive)
}

// IsTooLargeError checks if the error is or wraps ErrTooLarge
func IsTooLargeError(err error) bool {
	return errors.Is(err, ErrTooLarge)
}

func isFlateError(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.As(err, &corrupt)
}
