package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/praas/buffer"
)

func newTestContext(t *testing.T, transport Transport) *Context {
	t.Helper()
	iv := NewInvoker("proc-1", NewRegistry(nil), transport, InvokerOptions{OutputBufferSize: 64})
	pctx := iv.Context()
	pctx.StartInvocation("test")
	t.Cleanup(pctx.EndInvocation)
	return pctx
}

func TestContextMissingKeys(t *testing.T) {
	pctx := newTestContext(t, nil)

	state := pctx.StateGet("missing")
	require.NotNil(t, state)
	assert.Zero(t, state.Len())

	msg := pctx.Get(Self, "missing")
	require.NotNil(t, msg)
	assert.Zero(t, msg.Len())

	assert.Zero(t, pctx.Get(Any, "missing").Len())
}

func TestContextStateRoundTrip(t *testing.T) {
	pctx := newTestContext(t, nil)

	pctx.StatePut("a", buffer.FromString("1"))
	pctx.StatePut("b", buffer.FromString("2"))
	pctx.StatePut("a", buffer.FromString("3"))

	assert.Equal(t, "3", pctx.StateGet("a").String())
	assert.Equal(t, []string{"a", "b"}, keyNames(pctx.StateKeys()))

	// Mutating the returned buffer leaves the store untouched.
	got := pctx.StateGet("b")
	got.Writable()[0] = 'x'
	assert.Equal(t, "2", pctx.StateGet("b").String())
}

func TestContextPutSelf(t *testing.T) {
	pctx := newTestContext(t, nil)
	ctx := context.Background()

	require.NoError(t, pctx.Put(ctx, Self, "greeting", buffer.FromString("hi")))

	assert.Equal(t, "hi", pctx.Get(Self, "greeting").String())
	assert.Equal(t, "hi", pctx.Get("proc-1", "greeting").String())
	assert.Equal(t, "hi", pctx.Get(Any, "greeting").String())
	assert.Equal(t, "hi", pctx.Get(Self, "greeting").String())
}

func TestContextPutTargets(t *testing.T) {
	ctx := context.Background()

	t.Run("any rejected", func(t *testing.T) {
		pctx := newTestContext(t, newFakeTransport())
		err := pctx.Put(ctx, Any, "k", buffer.FromString("v"))
		assert.ErrorIs(t, err, ErrSymbolicTarget)
	})

	t.Run("remote", func(t *testing.T) {
		transport := newFakeTransport()
		pctx := newTestContext(t, transport)
		require.NoError(t, pctx.Put(ctx, "proc-2", "k", buffer.FromString("v")))
		require.Len(t, transport.puts, 1)
		assert.Equal(t, putCall{target: "proc-2", key: "k", data: []byte("v")}, transport.puts[0])
	})

	t.Run("no transport", func(t *testing.T) {
		pctx := newTestContext(t, nil)
		err := pctx.Put(ctx, "proc-2", "k", buffer.FromString("v"))
		assert.ErrorIs(t, err, ErrDelivery)
	})

	t.Run("transport error", func(t *testing.T) {
		transport := newFakeTransport()
		transport.putErr = errors.New("no route")
		pctx := newTestContext(t, transport)
		err := pctx.Put(ctx, "proc-2", "k", buffer.FromString("v"))
		assert.ErrorIs(t, err, ErrDelivery)
		assert.Contains(t, err.Error(), "no route")
	})
}

func TestContextInvokeAnyRejected(t *testing.T) {
	pctx := newTestContext(t, newFakeTransport())
	_, err := pctx.Invoke(context.Background(), Any, "add", "")
	assert.ErrorIs(t, err, ErrSymbolicTarget)
}

func TestContextOutputBuffer(t *testing.T) {
	pctx := newTestContext(t, nil)

	out := pctx.GetOutputBuffer(0)
	assert.Equal(t, 64, out.Cap())
	assert.Same(t, out, pctx.GetOutputBuffer(32))

	larger := pctx.GetOutputBuffer(128)
	assert.Equal(t, 128, larger.Cap())
	assert.Same(t, larger, pctx.OutputBuffer())

	require.NoError(t, pctx.WriteOutput([]byte("abc"), 0))
	assert.Equal(t, "abc", pctx.OutputBuffer().String())

	custom := buffer.FromString("custom")
	pctx.SetOutputBuffer(custom)
	assert.Same(t, custom, pctx.OutputBuffer())

	// A new invocation starts from the default buffer again.
	pctx.StartInvocation("next")
	assert.Same(t, out, pctx.OutputBuffer())
	assert.Zero(t, pctx.OutputBuffer().Len())
	assert.Equal(t, "next", pctx.InvocationID())
}

func TestContextNestedOutputBuffer(t *testing.T) {
	iv := NewInvoker("proc-1", NewRegistry(nil), nil, InvokerOptions{OutputBufferSize: 1 << 20})

	sized := iv.Context().child()
	sized.StartInvocation("sized")
	defer sized.EndInvocation()
	assert.Equal(t, 16, sized.GetOutputBuffer(16).Cap())

	written := iv.Context().child()
	written.StartInvocation("written")
	defer written.EndInvocation()
	require.NoError(t, written.WriteOutput([]byte("abc"), 0))
	assert.Equal(t, nestedOutputSize, written.OutputBuffer().Cap())

	// Writes past the capacity grow the buffer and keep what was written.
	large := make([]byte, 3*nestedOutputSize)
	require.NoError(t, written.WriteOutput(large, 3))
	assert.Equal(t, 3+len(large), written.OutputBuffer().Len())
	assert.Equal(t, "abc", string(written.OutputBuffer().Readable()[:3]))

	// The configured output size still bounds nested output.
	var rangeErr *buffer.RangeError
	assert.ErrorAs(t, written.WriteOutput([]byte("x"), 1<<20), &rangeErr)
}

func TestContextGetBuffer(t *testing.T) {
	pctx := newTestContext(t, nil)
	buf := pctx.GetBuffer(16)
	assert.Equal(t, 16, buf.Cap())
	assert.Zero(t, buf.Len())
	assert.Len(t, pctx.userBuffers, 1)

	pctx.EndInvocation()
	assert.Empty(t, pctx.userBuffers)
}

func TestContextApplicationStatus(t *testing.T) {
	iv := NewInvoker("proc-1", NewRegistry(nil), nil, DefaultInvokerOptions())
	assert.Empty(t, iv.Context().ActiveProcesses())

	status := &ApplicationStatus{Active: []ProcessID{"proc-1"}, Swapped: []ProcessID{"proc-9"}}
	iv.SetApplication(status)
	status.Active[0] = "changed"

	assert.Equal(t, []ProcessID{"proc-1"}, iv.Context().ActiveProcesses())
	assert.Equal(t, []ProcessID{"proc-9"}, iv.Context().SwappedProcesses())
}

func TestProcessIDResolve(t *testing.T) {
	assert.Equal(t, ProcessID("p"), Self.Resolve("p"))
	assert.Equal(t, Any, Any.Resolve("p"))
	assert.Equal(t, ProcessID("q"), ProcessID("q").Resolve("p"))
	assert.True(t, Self.IsSymbolic())
	assert.False(t, ProcessID("q").IsSymbolic())
}
