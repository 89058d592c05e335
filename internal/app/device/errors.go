package device

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDeviceActivation marks a failure to bring the playback device online.
	ErrDeviceActivation = errors.New("device activation failed")
	// ErrPlaybackCommand marks a failed play, pause, resume, or volume command.
	ErrPlaybackCommand = errors.New("playback command failed")
	// ErrNotActivated is returned by Load before a successful Activate.
	ErrNotActivated = errors.New("device not activated")
)

// ActivationError describes why activation gave up.
type ActivationError struct {
	DeviceName string
	Attempts   int
	Err        error
}

func (e *ActivationError) Error() string {
	name := e.DeviceName
	if name == "" {
		name = "<any>"
	}
	return fmt.Sprintf("device activation failed: device=%s attempts=%d: %v", name, e.Attempts, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

func (e *ActivationError) Is(target error) bool { return target == ErrDeviceActivation }

// CommandError describes a failed device command.
// Retryable reports whether the remote rejected it transiently (429 or 5xx);
// the adapter itself never retries.
type CommandError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("playback command %s failed (retryable=%t): %v", e.Op, e.Retryable, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Is(target error) bool { return target == ErrPlaybackCommand }
