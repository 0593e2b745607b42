// Package cluster provides the transports that connect process loops to each
// other and to external clients: an in-process Hub and a TCP transport.
package cluster

import (
	"errors"
	"fmt"

	"github.com/najoast/praas/core"
)

// Transport errors
var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrUnknownProcess   = errors.New("unknown process")
	ErrAlreadyAttached  = errors.New("process already attached")
	ErrDuplicateKey     = errors.New("invocation key already pending")
	ErrRateLimited      = errors.New("put rate exceeded")
	ErrRemoteRejected   = errors.New("remote process rejected the frame")
	ErrUnexpectedFrame  = errors.New("unexpected frame")
	ErrMissingProcessID = errors.New("process id is required")
)

// deliveryError marks err as a delivery failure for target.
func deliveryError(op string, target core.ProcessID, err error) error {
	if !errors.Is(err, core.ErrDelivery) {
		err = fmt.Errorf("%w: %w", core.ErrDelivery, err)
	}
	return &core.ProcessError{Operation: op, Process: target, Err: err}
}
