package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/najoast/praas/buffer"
)

// Context bundles buffer allocation, state, mailbox and invoke for the
// invocation currently running in a process.
//
// The loop owns one root Context and scopes it with StartInvocation and
// EndInvocation. A self-invocation runs on a child Context that shares the
// process stores but has its own output and user buffers.
type Context struct {
	invoker      *Invoker
	depth        int
	invocationID string

	defaultOutput *buffer.Buffer
	output        *buffer.Buffer
	userBuffers   []*buffer.Buffer
}

func newContext(invoker *Invoker, depth int) *Context {
	return &Context{invoker: invoker, depth: depth}
}

// ProcessID returns the id of the local process.
func (c *Context) ProcessID() ProcessID {
	return c.invoker.id
}

// InvocationID returns the key of the invocation being served.
func (c *Context) InvocationID() string {
	return c.invocationID
}

// Depth returns the self-invocation nesting level, zero for the loop.
func (c *Context) Depth() int {
	return c.depth
}

// StartInvocation scopes the context to the invocation key and resets its output.
func (c *Context) StartInvocation(key string) {
	c.invocationID = key
	c.output = c.defaultOutput
	c.output.Reset()
}

// EndInvocation releases per-invocation buffers.
func (c *Context) EndInvocation() {
	c.userBuffers = nil
	c.output = c.defaultOutput
	c.invocationID = ""
}

// GetBuffer allocates a buffer owned by the context until EndInvocation.
func (c *Context) GetBuffer(size int) *buffer.Buffer {
	buf := buffer.Allocate(size)
	c.userBuffers = append(c.userBuffers, buf)
	return buf
}

// GetOutputBuffer returns the output buffer, replacing it with a larger one
// when size exceeds its capacity. A nested context without output yet gets
// exactly size bytes.
func (c *Context) GetOutputBuffer(size int) *buffer.Buffer {
	if c.output == nil && c.depth > 0 {
		c.output = buffer.Allocate(size)
		return c.output
	}
	out := c.OutputBuffer()
	if size > out.Cap() {
		c.output = buffer.Allocate(size)
	}
	return c.output
}

// SetOutputBuffer makes buf the payload reported for this invocation.
func (c *Context) SetOutputBuffer(buf *buffer.Buffer) {
	c.output = buf
}

// WriteOutput copies p into the output buffer at pos. Nested contexts grow
// their output up to the configured output buffer size.
func (c *Context) WriteOutput(p []byte, pos int) error {
	if c.depth > 0 {
		c.growOutput(pos + len(p))
	}
	_, err := c.OutputBuffer().WriteAt(p, pos)
	return err
}

// OutputBuffer returns the buffer that will be reported. The loop context
// keeps one default buffer of OutputBufferSize for every invocation; nested
// contexts start from nestedOutputSize.
func (c *Context) OutputBuffer() *buffer.Buffer {
	if c.output != nil {
		return c.output
	}
	if c.depth > 0 {
		c.output = buffer.Allocate(min(nestedOutputSize, c.invoker.opts.OutputBufferSize))
		return c.output
	}
	if c.defaultOutput == nil {
		c.defaultOutput = buffer.Allocate(c.invoker.opts.OutputBufferSize)
	}
	c.output = c.defaultOutput
	return c.output
}

// growOutput makes room for n bytes, doubling the capacity and never going
// past OutputBufferSize. Larger writes are left to fail in WriteAt.
func (c *Context) growOutput(n int) {
	limit := c.invoker.opts.OutputBufferSize
	out := c.OutputBuffer()
	if n <= out.Cap() || n > limit {
		return
	}
	grown := buffer.Allocate(min(max(n, 2*out.Cap()), limit))
	if err := grown.Append(out.Readable()); err != nil {
		return
	}
	c.output = grown
}

// reportedOutput returns the output without allocating the default buffer.
func (c *Context) reportedOutput() *buffer.Buffer {
	if c.output == nil {
		return buffer.Allocate(0)
	}
	return c.output
}

// StateGet returns the state stored under key, or an empty buffer.
func (c *Context) StateGet(key string) *buffer.Buffer {
	return buffer.Wrap(c.invoker.state.Get(key))
}

// StatePut stores the readable bytes of buf under key.
func (c *Context) StatePut(key string, buf *buffer.Buffer) {
	c.invoker.state.Put(key, buf.Readable())
}

// StateKeys returns the state keys in insertion order.
func (c *Context) StateKeys() []StateKey {
	return c.invoker.state.Keys()
}

// Put delivers buf into the mailbox of target, tagged with the local process.
func (c *Context) Put(ctx context.Context, target ProcessID, key string, buf *buffer.Buffer) error {
	if target == Any {
		return &ProcessError{Operation: "put", Process: target, Err: ErrSymbolicTarget}
	}

	local := c.ProcessID()
	resolved := target.Resolve(local)
	if resolved == local {
		c.invoker.mailbox.Deliver(local, key, buf.Readable())
		return nil
	}

	transport := c.invoker.transport
	if transport == nil {
		return &ProcessError{Operation: "put", Process: resolved, Err: ErrDelivery}
	}
	if err := transport.Put(ctx, resolved, key, buf.Readable()); err != nil {
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		return &ProcessError{Operation: "put", Process: resolved, Err: err}
	}
	return nil
}

// Get returns the mailbox entry stored by source under key, or an empty buffer.
func (c *Context) Get(source ProcessID, key string) *buffer.Buffer {
	data, ok := c.invoker.mailbox.Lookup(source.Resolve(c.ProcessID()), key)
	if !ok {
		return buffer.Allocate(0)
	}
	return buffer.Wrap(data)
}

// Invoke calls function on target and waits for its result.
// An empty key is replaced with a generated one.
func (c *Context) Invoke(ctx context.Context, target ProcessID, function, key string, args ...*buffer.Buffer) (*InvocationResult, error) {
	if target == Any {
		return nil, &ProcessError{Operation: "invoke", Process: target, Err: ErrSymbolicTarget}
	}
	if key == "" {
		key = uuid.NewString()
	}

	inv := &Invocation{
		Key:          key,
		FunctionName: function,
		Args:         args,
		Source:       c.ProcessID(),
	}

	resolved := target.Resolve(c.ProcessID())
	return c.invoker.callerFor(resolved).Call(ctx, resolved, inv, c)
}

// ActiveProcesses returns the active processes of the application.
func (c *Context) ActiveProcesses() []ProcessID {
	return c.invoker.Application().Active
}

// SwappedProcesses returns the swapped processes of the application.
func (c *Context) SwappedProcesses() []ProcessID {
	return c.invoker.Application().Swapped
}

// child creates the context for a nested self-invocation.
func (c *Context) child() *Context {
	return newContext(c.invoker, c.depth+1)
}
