package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/najoast/praas/buffer"
	"github.com/najoast/praas/codec"
	"github.com/najoast/praas/core"
	"github.com/najoast/praas/network"
)

// TCPConfig configures a TCPTransport.
type TCPConfig struct {
	// ProcessID is the id of the local process
	ProcessID core.ProcessID

	// Network configures the listener and outbound connections
	Network *network.Config

	// AdvertiseAddress is the address announced to peers, the listener
	// address when empty
	AdvertiseAddress string

	// Peers seeds the directory
	Peers map[core.ProcessID]string

	// InvokeTimeout bounds remote invocations, zero waits for the caller's context
	InvokeTimeout time.Duration

	// Encoding selects the frame body codec, msgpack when empty
	Encoding string

	// Compression compresses frame bodies
	Compression codec.CompressionType

	// PutLimit bounds outbound puts per target
	PutLimit RateLimitConfig

	// Breaker configures the per-target circuit breakers
	Breaker BreakerConfig

	// Logger receives transport diagnostics
	Logger *slog.Logger
}

// TCPStatistics holds counters for a TCPTransport.
type TCPStatistics struct {
	FramesReceived int64 `json:"frames_received"`
	FramesSent     int64 `json:"frames_sent"`
	DecodeErrors   int64 `json:"decode_errors"`
	RejectedPuts   int64 `json:"rejected_puts"`
	Pending        int   `json:"pending"`
	Connections    int   `json:"connections"`
}

// TCPTransport is a core.Transport that exchanges frames with peer processes
// over TCP. Results travel back on the connection the invocation came from.
type TCPTransport struct {
	id        core.ProcessID
	config    TCPConfig
	netConfig *network.Config
	wire      wireCodec
	logger    *slog.Logger

	directory *Directory
	server    network.Server
	pool      *network.Pool
	inbox     *messageQueue
	pending   *pendingCalls
	breakers  *breakerSet
	limiter   *putLimiter

	originsMu sync.Mutex
	origins   map[originKey]network.Connection

	started int32
	closed  int32

	framesReceived int64
	framesSent     int64
	decodeErrors   int64
	rejectedPuts   int64
}

// NewTCPTransport creates a transport for config.ProcessID. It does not
// listen until Start.
func NewTCPTransport(config TCPConfig) (*TCPTransport, error) {
	if config.ProcessID == "" || config.ProcessID.IsSymbolic() {
		return nil, fmt.Errorf("%w: %q", ErrMissingProcessID, config.ProcessID)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tcp-transport", "process", string(config.ProcessID))

	netConfig := network.DefaultConfig()
	if config.Network != nil {
		copied := *config.Network
		netConfig = &copied
	}
	netConfig.Logger = logger

	encoding := config.Encoding
	if encoding == "" {
		encoding = codec.EncodingMsgpack
	}
	c, err := codec.ByName(encoding)
	if err != nil {
		return nil, err
	}

	limiter, err := newPutLimiter(config.PutLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create put limiter: %w", err)
	}

	t := &TCPTransport{
		id:        config.ProcessID,
		config:    config,
		netConfig: netConfig,
		wire:      wireCodec{codec: c, compression: config.Compression},
		logger:    logger,
		directory: NewDirectory(config.Peers),
		inbox:     newMessageQueue(),
		pending:   newPendingCalls(),
		breakers:  newBreakerSet(config.Breaker, logger),
		limiter:   limiter,
		origins:   make(map[originKey]network.Connection),
	}

	server, err := network.NewTCPServer(netConfig, t)
	if err != nil {
		return nil, err
	}
	t.server = server
	t.pool = network.NewPool(t.dial)
	return t, nil
}

// ID returns the local process id.
func (t *TCPTransport) ID() core.ProcessID {
	return t.id
}

// Directory returns the peer directory.
func (t *TCPTransport) Directory() *Directory {
	return t.directory
}

// Addr returns the listening address, nil before Start.
func (t *TCPTransport) Addr() net.Addr {
	return t.server.Addr()
}

// Start begins accepting peer connections.
func (t *TCPTransport) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return fmt.Errorf("transport already started")
	}
	if err := t.server.Start(); err != nil {
		atomic.StoreInt32(&t.started, 0)
		return err
	}
	t.logger.Info("transport listening", "address", t.advertise(), "peers", len(t.directory.Processes()))
	return nil
}

// Stop closes every connection, ends the Poll stream and fails waiting callers.
func (t *TCPTransport) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}

	t.inbox.close()
	t.pending.failAll(ErrTransportClosed)

	var errs []error
	if err := t.pool.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if atomic.LoadInt32(&t.started) == 1 {
		if err := t.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Statistics returns transport counters.
func (t *TCPTransport) Statistics() TCPStatistics {
	return TCPStatistics{
		FramesReceived: atomic.LoadInt64(&t.framesReceived),
		FramesSent:     atomic.LoadInt64(&t.framesSent),
		DecodeErrors:   atomic.LoadInt64(&t.decodeErrors),
		RejectedPuts:   atomic.LoadInt64(&t.rejectedPuts),
		Pending:        t.pending.len(),
		Connections:    t.pool.Len() + t.server.ConnectionCount(),
	}
}

// BreakerState returns the circuit breaker state for target.
func (t *TCPTransport) BreakerState(target core.ProcessID) gobreaker.State {
	return t.breakers.state(target)
}

// Poll returns the next message received from peers.
func (t *TCPTransport) Poll(ctx context.Context) (*core.Message, error) {
	return t.inbox.pop(ctx)
}

// Report sends the result of an invocation back to the connection it came
// from. A caller that went away is logged, not treated as a failure.
func (t *TCPTransport) Report(ctx context.Context, source core.ProcessID, key string, payload *buffer.Buffer, code int) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	conn := t.takeOrigin(source, key)
	if conn == nil {
		t.logger.Warn("no caller waiting for result", "source", string(source), "key", key, "code", code)
		return nil
	}

	body := resultBody{Key: key, Source: source, Process: t.id, Code: code, Payload: payload.Bytes()}
	f, err := t.wire.frame(network.FrameResult, body)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", key, err)
	}
	if err := conn.Send(f); err != nil {
		t.logger.Warn("failed to deliver result", "key", key, "connection", conn.ID(), "error", err)
		return nil
	}
	atomic.AddInt64(&t.framesSent, 1)
	return nil
}

// Put delivers data into the mailbox of target with this process as sender.
func (t *TCPTransport) Put(ctx context.Context, target core.ProcessID, key string, data []byte) error {
	if target == t.id {
		t.inbox.push(&core.Message{Kind: core.MessagePut, Sender: t.id, Key: key, Data: append([]byte(nil), data...)})
		return nil
	}
	if !t.limiter.allow(target) {
		atomic.AddInt64(&t.rejectedPuts, 1)
		return deliveryError("put", target, ErrRateLimited)
	}
	return t.send(ctx, "put", target, network.FramePut, putBody{Sender: t.id, Key: key, Data: data})
}

// Invoke sends inv to target and waits for the result, bounded by the
// configured invoke timeout.
func (t *TCPTransport) Invoke(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	if t.isClosed() {
		return nil, deliveryError("invoke", target, ErrTransportClosed)
	}

	body := invocationToBody(inv)
	if body.Source == "" {
		body.Source = t.id
	}

	call := callKey{source: body.Source, target: target, key: body.Key}
	ch, err := t.pending.register(call)
	if err != nil {
		return nil, deliveryError("invoke", target, err)
	}

	if err := t.send(ctx, "invoke", target, network.FrameInvoke, body); err != nil {
		t.pending.cancel(call)
		return nil, err
	}

	return t.pending.await(ctx, call, ch, t.config.InvokeTimeout)
}

// Submit invokes on behalf of an external client. An empty key is replaced
// with a generated one.
func (t *TCPTransport) Submit(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	if inv.Key == "" {
		inv.Key = uuid.NewString()
	}
	return t.Invoke(ctx, target, inv)
}

// PublishApplication delivers status to the local loop and every known peer.
func (t *TCPTransport) PublishApplication(ctx context.Context, status *core.ApplicationStatus) error {
	status = status.Clone()
	t.inbox.push(&core.Message{Kind: core.MessageApplication, Application: status})

	var errs []error
	body := applicationBody{Active: status.Active, Swapped: status.Swapped}
	for _, peer := range t.directory.Processes() {
		if peer == t.id {
			continue
		}
		if err := t.send(ctx, "application", peer, network.FrameApplication, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnFrame implements network.FrameHandler.
func (t *TCPTransport) OnFrame(conn network.Connection, f *network.Frame) {
	atomic.AddInt64(&t.framesReceived, 1)

	switch f.Kind {
	case network.FrameHello:
		var body helloBody
		if !t.decode(conn, f, &body) {
			return
		}
		conn.SetUserData(body.Process)
		if body.Address != "" {
			t.directory.Register(body.Process, body.Address)
		}
		t.logger.Debug("peer connected", "peer", string(body.Process), "address", body.Address)

	case network.FrameInvoke:
		var body invocationBody
		if !t.decode(conn, f, &body) {
			return
		}
		t.setOrigin(body.Source, body.Key, conn)
		if !t.inbox.push(&core.Message{Kind: core.MessageInvocation, Invocation: body.invocation()}) {
			t.takeOrigin(body.Source, body.Key)
			t.reject(conn, errorBody{Key: body.Key, Source: body.Source, Process: t.id, Message: ErrTransportClosed.Error()})
		}

	case network.FrameResult:
		var body resultBody
		if !t.decode(conn, f, &body) {
			return
		}
		if call := body.call(); !t.pending.resolve(call, outcome{result: body.result()}) {
			t.logger.Debug("dropping late result", "call", call.String())
		}

	case network.FramePut:
		var body putBody
		if !t.decode(conn, f, &body) {
			return
		}
		t.inbox.push(&core.Message{Kind: core.MessagePut, Sender: body.Sender, Key: body.Key, Data: body.Data})

	case network.FrameApplication:
		var body applicationBody
		if !t.decode(conn, f, &body) {
			return
		}
		t.inbox.push(&core.Message{
			Kind:        core.MessageApplication,
			Application: &core.ApplicationStatus{Active: body.Active, Swapped: body.Swapped},
		})

	case network.FrameError:
		var body errorBody
		if !t.decode(conn, f, &body) {
			return
		}
		if body.Key != "" {
			call := callKey{source: body.Source, target: body.Process, key: body.Key}
			t.pending.resolve(call, outcome{err: fmt.Errorf("%w: %s", ErrRemoteRejected, body.Message)})
		}
		t.logger.Warn("peer rejected frame", "key", body.Key, "message", body.Message)

	default:
		atomic.AddInt64(&t.decodeErrors, 1)
		t.logger.Warn("ignoring frame", "kind", f.Kind.String(), "error", ErrUnexpectedFrame)
	}
}

// OnDisconnect implements network.FrameHandler.
func (t *TCPTransport) OnDisconnect(conn network.Connection, err error) {
	if peer, ok := conn.UserData().(core.ProcessID); ok {
		t.pool.Remove(string(peer), conn)
	}

	t.originsMu.Lock()
	for key, origin := range t.origins {
		if origin == conn {
			delete(t.origins, key)
		}
	}
	t.originsMu.Unlock()

	if err != nil && !t.isClosed() {
		t.logger.Debug("connection closed", "connection", conn.ID(), "error", err)
	}
}

func (t *TCPTransport) decode(conn network.Connection, f *network.Frame, body interface{}) bool {
	if err := t.wire.decode(f, body); err != nil {
		atomic.AddInt64(&t.decodeErrors, 1)
		t.logger.Warn("failed to decode frame", "kind", f.Kind.String(), "connection", conn.ID(), "error", err)
		t.reject(conn, errorBody{Message: err.Error()})
		return false
	}
	return true
}

func (t *TCPTransport) reject(conn network.Connection, body errorBody) {
	f, err := t.wire.frame(network.FrameError, body)
	if err != nil {
		return
	}
	conn.Send(f)
}

func (t *TCPTransport) send(ctx context.Context, op string, target core.ProcessID, kind network.FrameKind, body interface{}) error {
	if t.isClosed() {
		return deliveryError(op, target, ErrTransportClosed)
	}

	f, err := t.wire.frame(kind, body)
	if err != nil {
		return deliveryError(op, target, err)
	}

	err = t.breakers.execute(op, target, func() error {
		conn, err := t.pool.Get(ctx, string(target))
		if err != nil {
			return err
		}
		return conn.Send(f)
	})
	if err == nil {
		atomic.AddInt64(&t.framesSent, 1)
	}
	return err
}

// dial opens the outbound connection to a peer and introduces this process.
func (t *TCPTransport) dial(ctx context.Context, key string) (network.Connection, error) {
	peer := core.ProcessID(key)
	address, ok := t.directory.Lookup(peer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, peer)
	}

	conn, err := network.Dial(ctx, address, t.netConfig, t)
	if err != nil {
		return nil, err
	}
	conn.SetUserData(peer)

	hello, err := t.wire.frame(network.FrameHello, helloBody{Process: t.id, Address: t.advertise()})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(hello); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (t *TCPTransport) advertise() string {
	if t.config.AdvertiseAddress != "" {
		return t.config.AdvertiseAddress
	}
	if addr := t.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// originKey names an invocation received from a peer. Keys are only unique
// per source.
type originKey struct {
	source core.ProcessID
	key    string
}

func (t *TCPTransport) setOrigin(source core.ProcessID, key string, conn network.Connection) {
	t.originsMu.Lock()
	defer t.originsMu.Unlock()
	t.origins[originKey{source: source, key: key}] = conn
}

func (t *TCPTransport) takeOrigin(source core.ProcessID, key string) network.Connection {
	t.originsMu.Lock()
	defer t.originsMu.Unlock()
	id := originKey{source: source, key: key}
	conn := t.origins[id]
	delete(t.origins, id)
	return conn
}

func (t *TCPTransport) isClosed() bool {
	return atomic.LoadInt32(&t.closed) == 1
}
