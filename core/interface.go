package core

import (
	"context"

	"github.com/najoast/praas/buffer"
)

// Status is the explicit completion code a handler reports.
// The zero value means the handler reported nothing.
type Status struct {
	code int
	set  bool
}

// Code returns a Status carrying c.
func Code(c int) Status {
	return Status{code: c, set: true}
}

// Reported reports whether the status was set explicitly.
func (s Status) Reported() bool {
	return s.set
}

// Value returns the code.
func (s Status) Value() int {
	return s.code
}

// Handler executes one function invocation.
type Handler interface {
	// Execute runs the function. A returned error fails the invocation
	// with the error text as its payload.
	Execute(ctx context.Context, inv *Invocation, pctx *Context) (Status, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation, pctx *Context) (Status, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation, pctx *Context) (Status, error) {
	return f(ctx, inv, pctx)
}

// Transport moves invocations, results and mailbox entries between processes.
type Transport interface {
	// Poll blocks until the next message arrives.
	// It returns io.EOF once the stream has ended.
	Poll(ctx context.Context) (*Message, error)

	// Report delivers the result of the invocation source sent under key.
	Report(ctx context.Context, source ProcessID, key string, payload *buffer.Buffer, code int) error

	// Put stores data in the mailbox of target under the local process as sender.
	Put(ctx context.Context, target ProcessID, key string, data []byte) error

	// Invoke forwards inv to target and blocks until the result is reported.
	Invoke(ctx context.Context, target ProcessID, inv *Invocation) (*InvocationResult, error)
}

// Caller performs a synchronous invocation along one delivery path.
type Caller interface {
	Call(ctx context.Context, target ProcessID, inv *Invocation, pctx *Context) (*InvocationResult, error)
}
