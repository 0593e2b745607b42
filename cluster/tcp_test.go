package cluster

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/praas/buffer"
	"github.com/najoast/praas/codec"
	"github.com/najoast/praas/core"
	"github.com/najoast/praas/network"
)

func testTCPConfig(id core.ProcessID) TCPConfig {
	netConfig := network.DefaultConfig()
	netConfig.Address = "127.0.0.1"
	netConfig.Port = 0
	return TCPConfig{
		ProcessID:     id,
		Network:       netConfig,
		InvokeTimeout: 5 * time.Second,
		Breaker:       DefaultBreakerConfig(),
	}
}

func startTCP(t *testing.T, config TCPConfig) *TCPTransport {
	t.Helper()
	transport, err := NewTCPTransport(config)
	require.NoError(t, err)
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { transport.Stop(context.Background()) })
	return transport
}

func runLoop(t *testing.T, transport core.Transport, id core.ProcessID) *core.Invoker {
	t.Helper()
	iv := core.NewInvoker(id, core.NewRegistry(mailboxHandlers()), transport, core.InvokerOptions{OutputBufferSize: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		iv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return iv
}

func link(a, b *TCPTransport) {
	a.Directory().Register(b.ID(), b.Addr().String())
	b.Directory().Register(a.ID(), a.Addr().String())
}

func tcpSubmit(t *testing.T, from *TCPTransport, target core.ProcessID, function string, args ...string) *core.InvocationResult {
	t.Helper()
	bufs := make([]*buffer.Buffer, len(args))
	for i, a := range args {
		bufs[i] = buffer.FromString(a)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := from.Submit(ctx, target, &core.Invocation{FunctionName: function, Args: bufs})
	require.NoError(t, err)
	return res
}

func TestTCPTransportPutAndInvoke(t *testing.T) {
	a := startTCP(t, testTCPConfig("a"))
	b := startTCP(t, testTCPConfig("b"))
	link(a, b)
	runLoop(t, b, "b")

	ctx := context.Background()
	require.NoError(t, a.Put(ctx, "b", "greeting", []byte("over tcp")))

	res := tcpSubmit(t, a, "b", "read", "a")
	assert.Equal(t, core.ReturnSuccess, res.ReturnCode)
	assert.Equal(t, "over tcp", res.Payload.String())

	res = tcpSubmit(t, a, "b", "read", string(core.Any))
	assert.Equal(t, "over tcp", res.Payload.String())

	res = tcpSubmit(t, a, "b", "nope")
	assert.Equal(t, core.ReturnUnknownFunction, res.ReturnCode)
	assert.Equal(t, "Ignoring invocation of an unknown function: nope", res.Payload.String())

	stats := a.Statistics()
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.DecodeErrors)
	assert.Positive(t, stats.FramesSent)
}

func TestTCPTransportSameKeyFromDifferentSources(t *testing.T) {
	a := startTCP(t, testTCPConfig("a"))
	b := startTCP(t, testTCPConfig("b"))
	c := startTCP(t, testTCPConfig("c"))
	link(a, b)
	link(c, b)
	runLoop(t, b, "b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	callers := []*TCPTransport{a, c}
	results := make([]*core.InvocationResult, len(callers))
	errs := make([]error, len(callers))
	var wg sync.WaitGroup
	for i, caller := range callers {
		i, caller := i, caller
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = caller.Invoke(ctx, "b", &core.Invocation{
				Key:          "x",
				FunctionName: "echo",
				Args:         []*buffer.Buffer{buffer.FromString(string(caller.ID()))},
			})
		}()
	}
	wg.Wait()

	for i, caller := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, core.ReturnSuccess, results[i].ReturnCode)
		assert.Equal(t, string(caller.ID()), results[i].Payload.String())
		assert.Zero(t, caller.Statistics().Pending)
	}
}

func TestTCPTransportNestedCallReusesCallerKey(t *testing.T) {
	a := startTCP(t, testTCPConfig("a"))
	b := startTCP(t, testTCPConfig("b"))
	client := startTCP(t, testTCPConfig("client"))
	link(a, b)
	link(client, a)
	link(client, b)
	runLoop(t, a, "a")
	runLoop(t, b, "b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// a forwards to b under key "y" while the client calls b with "y" itself.
	var relayed, direct *core.InvocationResult
	var relayErr, directErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relayed, relayErr = client.Submit(ctx, "a", &core.Invocation{
			Key:          "y",
			FunctionName: "relay",
			Args:         []*buffer.Buffer{buffer.FromString("b"), buffer.FromString("via a")},
		})
	}()
	go func() {
		defer wg.Done()
		direct, directErr = client.Submit(ctx, "b", &core.Invocation{
			Key:          "y",
			FunctionName: "echo",
			Args:         []*buffer.Buffer{buffer.FromString("direct")},
		})
	}()
	wg.Wait()

	require.NoError(t, relayErr)
	require.NoError(t, directErr)
	assert.Equal(t, "via a", relayed.Payload.String())
	assert.Equal(t, "direct", direct.Payload.String())
}

func TestTCPTransportProcessToProcess(t *testing.T) {
	a := startTCP(t, testTCPConfig("a"))
	b := startTCP(t, testTCPConfig("b"))
	client := startTCP(t, testTCPConfig("client"))
	link(a, b)
	link(client, a)
	runLoop(t, a, "a")
	runLoop(t, b, "b")

	require.NoError(t, client.PublishApplication(context.Background(), &core.ApplicationStatus{
		Active: []core.ProcessID{"a", "b"},
	}))

	// a invokes b, and b answers over the connection the call came in on.
	res := tcpSubmit(t, client, "a", "call", "b", "members")
	assert.Equal(t, core.ReturnSuccess, res.ReturnCode)

	require.Eventually(t, func() bool {
		return tcpSubmit(t, client, "a", "members").Payload.String() == "a b |"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTCPTransportMixedEncodings(t *testing.T) {
	config := testTCPConfig("a")
	config.Encoding = codec.EncodingJSON
	config.Compression = codec.CompressionZstd
	a := startTCP(t, config)
	b := startTCP(t, testTCPConfig("b"))
	link(a, b)
	runLoop(t, b, "b")

	require.NoError(t, a.Put(context.Background(), "b", "greeting", []byte("compressed json")))
	res := tcpSubmit(t, a, "b", "read", "a")
	assert.Equal(t, "compressed json", res.Payload.String())
}

func TestTCPTransportInvokeTimeout(t *testing.T) {
	config := testTCPConfig("a")
	config.InvokeTimeout = 100 * time.Millisecond
	a := startTCP(t, config)
	idle := startTCP(t, testTCPConfig("idle"))
	link(a, idle)

	_, err := a.Submit(context.Background(), "idle", &core.Invocation{FunctionName: "read"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvokeTimeout)
	assert.False(t, errors.Is(err, core.ErrDelivery))
	assert.Zero(t, a.Statistics().Pending)
}

func TestTCPTransportDeliveryErrors(t *testing.T) {
	config := testTCPConfig("a")
	config.Breaker.FailureThreshold = 2
	a := startTCP(t, config)
	ctx := context.Background()

	_, err := a.Submit(ctx, "ghost", &core.Invocation{FunctionName: "read"})
	assert.ErrorIs(t, err, core.ErrDelivery)
	assert.ErrorIs(t, err, ErrUnknownProcess)

	dead := startTCP(t, testTCPConfig("dead"))
	address := dead.Addr().String()
	require.NoError(t, dead.Stop(ctx))
	a.Directory().Register("dead", address)

	for i := 0; i < 3; i++ {
		err = a.Put(ctx, "dead", "k", []byte("v"))
		assert.ErrorIs(t, err, core.ErrDelivery)
	}
	assert.Equal(t, gobreaker.StateOpen, a.BreakerState("dead"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestTCPTransportPutRateLimit(t *testing.T) {
	config := testTCPConfig("a")
	config.PutLimit = RateLimitConfig{Rate: 1, Burst: 1, Duration: time.Hour}
	a := startTCP(t, config)
	b := startTCP(t, testTCPConfig("b"))
	link(a, b)

	var rejected int
	for i := 0; i < 5; i++ {
		if err := a.Put(context.Background(), "b", "k", []byte("v")); err != nil {
			assert.ErrorIs(t, err, ErrRateLimited)
			assert.ErrorIs(t, err, core.ErrDelivery)
			rejected++
		}
	}
	assert.Positive(t, rejected)
	assert.Equal(t, int64(rejected), a.Statistics().RejectedPuts)
}

func TestTCPTransportStop(t *testing.T) {
	a := startTCP(t, testTCPConfig("a"))
	b := startTCP(t, testTCPConfig("b"))
	link(a, b)

	ctx := context.Background()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))

	_, err := a.Poll(ctx)
	assert.ErrorIs(t, err, io.EOF)

	_, err = a.Submit(ctx, "b", &core.Invocation{FunctionName: "read"})
	assert.ErrorIs(t, err, core.ErrDelivery)
	assert.ErrorIs(t, a.Report(ctx, "b", "k", buffer.Allocate(0), 0), ErrTransportClosed)
}

func TestNewTCPTransportValidation(t *testing.T) {
	_, err := NewTCPTransport(TCPConfig{})
	assert.ErrorIs(t, err, ErrMissingProcessID)

	_, err = NewTCPTransport(TCPConfig{ProcessID: "a", Encoding: "xml"})
	assert.ErrorIs(t, err, codec.ErrUnknownEncoding)
}
