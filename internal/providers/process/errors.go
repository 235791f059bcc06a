package process

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailed matches every error from a failed process start.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrPathEscape is returned when a working directory resolves outside the
	// project root or cannot be used as one.
	ErrPathEscape = errors.New("working directory escapes project root")
	// ErrWorkingDirNotFound is wrapped together with ErrPathEscape when the
	// directory does not exist.
	ErrWorkingDirNotFound = errors.New("working directory not found")
)

// SpawnError carries the command that failed to start.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}
