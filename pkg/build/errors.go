package build

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBuildFailed is wrapped by every build failure
	ErrBuildFailed = errors.New("build failed")

	// ErrDockerNotAvailable is returned when the Docker daemon cannot be reached
	ErrDockerNotAvailable = errors.New("docker is not available")
)

// BuildError reports a build that could not run or complete, such as a
// missing project directory or package descriptor
type BuildError struct {
	ProjectDir string
	Message    string
	Err        error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("build failed: %s", e.Message)
}

func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBuildFailed}
	}
	return []error{ErrBuildFailed, e.Err}
}

// BuildProcessError reports a toolchain process that exited non-zero
type BuildProcessError struct {
	ExitCode int
	Command  []string
}

func (e *BuildProcessError) Error() string {
	return fmt.Sprintf("build failed: `%s` exited with code %d", strings.Join(e.Command, " "), e.ExitCode)
}

func (e *BuildProcessError) Unwrap() error { return ErrBuildFailed }

// UnsupportedCapabilityWarning reports a requested option the selected
// strategy cannot honor. The build still runs without it.
type UnsupportedCapabilityWarning struct {
	Capability string
	Strategy   StrategyKind
}

func (w *UnsupportedCapabilityWarning) Error() string {
	return fmt.Sprintf("%s is not supported by the %s strategy, ran a one-off build instead", w.Capability, w.Strategy)
}

// IsBuildFailedError checks if the error is or wraps ErrBuildFailed
func IsBuildFailedError(err error) bool {
	return errors.Is(err, ErrBuildFailed)
}

// IsDockerNotAvailableError checks if the error is or wraps ErrDockerNotAvailable
func IsDockerNotAvailableError(err error) bool {
	return errors.Is(err, ErrDockerNotAvailable)
}

// ExitCode returns the toolchain exit code carried by err, or -1
func ExitCode(err error) int {
	var procErr *BuildProcessError
	if errors.As(err, &procErr) {
		return procErr.ExitCode
	}
	return -1
}
