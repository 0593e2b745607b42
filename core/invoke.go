package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/najoast/praas/buffer"
)

// localCaller serves invocations addressed to the local process by
// re-entering dispatch on the calling goroutine.
type localCaller struct {
	invoker *Invoker
}

func (lc *localCaller) Call(ctx context.Context, target ProcessID, inv *Invocation, pctx *Context) (*InvocationResult, error) {
	maxDepth := lc.invoker.opts.MaxDepth
	if maxDepth > 0 && pctx.depth >= maxDepth {
		return &InvocationResult{
			Key:        inv.Key,
			ReturnCode: ReturnFailure,
			Payload:    buffer.FromString(fmt.Sprintf("%v: %d", ErrMaxDepth, maxDepth)),
		}, nil
	}

	child := pctx.child()
	child.StartInvocation(inv.Key)
	defer child.EndInvocation()

	return lc.invoker.dispatch(ctx, inv, child, nil), nil
}

// remoteCaller forwards invocations over the transport and waits for the
// remote loop to report.
type remoteCaller struct {
	invoker *Invoker
}

func (rc *remoteCaller) Call(ctx context.Context, target ProcessID, inv *Invocation, pctx *Context) (*InvocationResult, error) {
	transport := rc.invoker.transport
	if transport == nil {
		return nil, &ProcessError{Operation: "invoke", Process: target, Err: ErrDelivery}
	}

	result, err := transport.Invoke(ctx, target, inv)
	if err != nil {
		var pe *ProcessError
		if errors.As(err, &pe) {
			return nil, err
		}
		if !errors.Is(err, ErrDelivery) && !errors.Is(err, ErrInvokeTimeout) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		return nil, &ProcessError{Operation: "invoke", Process: target, Err: err}
	}
	if result.Payload == nil {
		result.Payload = buffer.Allocate(0)
	}
	return result, nil
}

// callerFor selects the delivery path for a resolved target.
func (iv *Invoker) callerFor(target ProcessID) Caller {
	if target == iv.id {
		return iv.local
	}
	return iv.remote
}
