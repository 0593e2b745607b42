package core

import (
	"errors"
	"fmt"
)

// Runtime errors
var (
	// ErrDelivery means a mailbox or invoke target could not be reached.
	ErrDelivery = errors.New("delivery failed")

	// ErrUnknownFunction is reported as ReturnUnknownFunction, never returned.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrProtocolViolation means a handler finished without an explicit status.
	ErrProtocolViolation = errors.New("handler did not report a status")

	// ErrTransportFailure means the loop can no longer poll or report.
	ErrTransportFailure = errors.New("transport failure")

	// ErrInvokeTimeout means a remote invocation did not complete in time.
	ErrInvokeTimeout = errors.New("invocation timed out")

	// ErrSymbolicTarget means Any was used where a concrete process is required.
	ErrSymbolicTarget = errors.New("symbolic process id is not a valid target")

	// ErrMaxDepth means nested self-invocations exceeded the configured bound.
	ErrMaxDepth = errors.New("maximum invocation depth exceeded")
)

// UnknownFunctionMessage is the diagnostic payload for a dispatch miss.
func UnknownFunctionMessage(name string) string {
	return "Ignoring invocation of an unknown function: " + name
}

// ProcessError represents an error that occurred in a process operation
type ProcessError struct {
	Operation string
	Process   ProcessID
	Err       error
}

func (e *ProcessError) Error() string {
	if e.Process != "" {
		return fmt.Sprintf("%s failed for process %s: %v", e.Operation, e.Process, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
