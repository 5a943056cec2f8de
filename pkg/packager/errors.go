package packager

import (
	"errors"
	"fmt"
)

var (
	// ErrPackagingPrecondition is wrapped when a project is not ready to be packaged
	ErrPackagingPrecondition = errors.New("packaging precondition failed")

	// ErrPackagingFailed is wrapped by I/O failures while assembling a package
	ErrPackagingFailed = errors.New("packaging failed")
)

// PackagingPreconditionError reports a project that cannot be packaged as
// is, such as an invalid manifest or missing build output. No archive I/O
// happens once a precondition fails.
type PackagingPreconditionError struct {
	ProjectDir string
	Reason     string
	Err        error
}

func (e *PackagingPreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot package %s: %s: %v", e.ProjectDir, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot package %s: %s", e.ProjectDir, e.Reason)
}

func (e *PackagingPreconditionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPackagingPrecondition}
	}
	return []error{ErrPackagingPrecondition, e.Err}
}

// IsPreconditionError checks if the error is a packaging precondition failure
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrPackagingPrecondition)
}

// IsPackagingFailedError checks if the error is an I/O failure during packaging
func IsPackagingFailedError(err error) bool {
	return errors.Is(err, ErrPackagingFailed)
}

func packagingError(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrPackagingFailed, fmt.Errorf(format, args...))
}
