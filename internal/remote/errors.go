package remote

import (
	"errors"
	"fmt"
)

// ErrConnectTimeout marks a connection attempt that exceeded its bound
var ErrConnectTimeout = errors.New("connection attempt timed out")

// ErrCommandTimeout marks a remote command that exceeded its bound
var ErrCommandTimeout = errors.New("remote command timed out")

// ConnectionError reports a failure to establish or keep an authenticated
// session with the brick. Authentication failures get exactly one credential
// re-prompt before one of these becomes fatal; everything else is fatal
// immediately.
type ConnectionError struct {
	Target string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %s", e.Target, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExecutionError reports an entry script that failed to start. The deployed
// program's own non-zero exit is expected application behavior and is only
// reported, never wrapped in one of these.
type ExecutionError struct {
	Entry string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to start %s on the brick: %v", e.Entry, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ResetError reports a controller that stayed unresponsive after the
// graceful-then-forced termination sequence.
type ResetError struct {
	Target string
	Reason string
	Err    error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("failed to reset %s: %s", e.Target, e.Reason)
}

func (e *ResetError) Unwrap() error {
	return e.Err
}
