package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/praas/buffer"
)

// Invoker is the dispatch loop of one process.
//
// It processes one invocation at a time, including every nested
// self-invocation the handler issues, before polling for the next one.
type Invoker struct {
	id        ProcessID
	registry  *Registry
	transport Transport
	opts      InvokerOptions
	logger    *slog.Logger

	state   *StateStore
	mailbox *Mailbox
	root    *Context

	local  Caller
	remote Caller

	appMu sync.RWMutex
	app   *ApplicationStatus

	// OnTransition is called on every loop state change when set.
	OnTransition func(key string, from, to LoopState)

	loopState        int32 // LoopState
	running          int32
	invocations      uint64
	failures         uint64
	unknownFunctions uint64
	lastInvocationAt int64 // Unix nanoseconds
}

// NewInvoker creates the loop for process id.
func NewInvoker(id ProcessID, registry *Registry, transport Transport, opts InvokerOptions) *Invoker {
	if opts.OutputBufferSize <= 0 {
		opts.OutputBufferSize = DefaultOutputBufferSize
	}

	iv := &Invoker{
		id:        id,
		registry:  registry,
		transport: transport,
		opts:      opts,
		logger:    slog.Default().With("component", "invoker", "process", string(id)),
		state:     NewStateStore(),
		mailbox:   NewMailbox(opts.MailboxKeys),
		app:       &ApplicationStatus{},
	}
	iv.root = newContext(iv, 0)
	iv.local = &localCaller{invoker: iv}
	iv.remote = &remoteCaller{invoker: iv}
	return iv
}

// SetLogger replaces the logger.
func (iv *Invoker) SetLogger(logger *slog.Logger) {
	if logger != nil {
		iv.logger = logger.With("component", "invoker", "process", string(iv.id))
	}
}

// ID returns the process id.
func (iv *Invoker) ID() ProcessID {
	return iv.id
}

// Context returns the root context used by the loop.
func (iv *Invoker) Context() *Context {
	return iv.root
}

// StateStore returns the process state store.
func (iv *Invoker) StateStore() *StateStore {
	return iv.state
}

// Mailbox returns the process mailbox.
func (iv *Invoker) Mailbox() *Mailbox {
	return iv.mailbox
}

// Registry returns the function registry.
func (iv *Invoker) Registry() *Registry {
	return iv.registry
}

// State returns the current loop state.
func (iv *Invoker) State() LoopState {
	return LoopState(atomic.LoadInt32(&iv.loopState))
}

// Application returns a copy of the latest application status.
func (iv *Invoker) Application() *ApplicationStatus {
	iv.appMu.RLock()
	defer iv.appMu.RUnlock()
	return iv.app.Clone()
}

// SetApplication replaces the application status.
func (iv *Invoker) SetApplication(status *ApplicationStatus) {
	iv.appMu.Lock()
	defer iv.appMu.Unlock()
	iv.app = status.Clone()
}

// Stats returns current runtime statistics.
func (iv *Invoker) Stats() InvokerStats {
	var last time.Time
	if ns := atomic.LoadInt64(&iv.lastInvocationAt); ns > 0 {
		last = time.Unix(0, ns)
	}
	return InvokerStats{
		ID:               iv.id,
		State:            iv.State(),
		Invocations:      atomic.LoadUint64(&iv.invocations),
		Failures:         atomic.LoadUint64(&iv.failures),
		UnknownFunctions: atomic.LoadUint64(&iv.unknownFunctions),
		LastInvocationAt: last,
		Mailbox:          iv.mailbox.Stats(),
	}
}

// Run polls the transport and dispatches invocations until the stream ends.
// It returns nil on end-of-stream or cancellation and an error wrapping
// ErrTransportFailure when the transport can no longer poll or report.
func (iv *Invoker) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&iv.running, 0, 1) {
		return fmt.Errorf("invoker %s is already running", iv.id)
	}
	defer atomic.StoreInt32(&iv.running, 0)

	if iv.transport == nil {
		return &ProcessError{Operation: "poll", Process: iv.id, Err: ErrTransportFailure}
	}

	iv.logger.Info("invoker started", "functions", iv.registry.Len())

	for {
		iv.transition("", StateIdle)

		msg, err := iv.transport.Poll(ctx)
		if err != nil {
			iv.transition("", StateStopped)
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				iv.logger.Info("shutting down the invoker")
				return nil
			}
			iv.logger.Error("unexpected end of the invoker", "error", err)
			return &ProcessError{Operation: "poll", Process: iv.id, Err: fmt.Errorf("%w: %w", ErrTransportFailure, err)}
		}
		if msg == nil {
			continue
		}

		switch msg.Kind {
		case MessagePut:
			iv.mailbox.Deliver(msg.Sender, msg.Key, msg.Data)
		case MessageApplication:
			iv.SetApplication(msg.Application)
			app := iv.Application()
			iv.logger.Debug("application status updated", "active", len(app.Active), "swapped", len(app.Swapped))
		case MessageInvocation:
			if msg.Invocation == nil {
				iv.logger.Warn("received empty invocation message")
				continue
			}
			if err := iv.process(ctx, msg.Invocation); err != nil {
				return err
			}
		default:
			iv.logger.Warn("ignoring message of unknown kind", "kind", msg.Kind.String())
		}
	}
}

// process runs a single invocation through the loop states.
func (iv *Invoker) process(ctx context.Context, inv *Invocation) error {
	key := inv.Key
	iv.transition(key, StateReceived)
	iv.root.StartInvocation(key)
	defer iv.root.EndInvocation()

	result := iv.dispatch(ctx, inv, iv.root, iv.transition)

	if err := iv.transport.Report(ctx, inv.Source, key, result.Payload, result.ReturnCode); err != nil {
		iv.transition(key, StateStopped)
		iv.logger.Error("failed to report invocation result", "key", key, "error", err)
		return &ProcessError{Operation: "report", Process: iv.id, Err: fmt.Errorf("%w: %w", ErrTransportFailure, err)}
	}
	iv.transition(key, StateReported)
	return nil
}

// Dispatch resolves and runs inv with pctx, converting every local failure
// into an InvocationResult.
func (iv *Invoker) Dispatch(ctx context.Context, inv *Invocation, pctx *Context) *InvocationResult {
	return iv.dispatch(ctx, inv, pctx, nil)
}

func (iv *Invoker) dispatch(ctx context.Context, inv *Invocation, pctx *Context, track func(string, LoopState)) *InvocationResult {
	if track == nil {
		track = func(string, LoopState) {}
	}
	atomic.AddUint64(&iv.invocations, 1)
	atomic.StoreInt64(&iv.lastInvocationAt, time.Now().UnixNano())

	track(inv.Key, StateDispatched)
	handler, exists := iv.registry.Lookup(inv.FunctionName)
	if !exists {
		atomic.AddUint64(&iv.unknownFunctions, 1)
		atomic.AddUint64(&iv.failures, 1)
		iv.logger.Warn("ignoring invocation of an unknown function", "function", inv.FunctionName, "key", inv.Key)
		track(inv.Key, StateFailed)
		return &InvocationResult{
			Key:        inv.Key,
			ReturnCode: ReturnUnknownFunction,
			Payload:    buffer.FromString(UnknownFunctionMessage(inv.FunctionName)),
		}
	}

	track(inv.Key, StateRunning)
	status, err := iv.execute(ctx, handler, inv, pctx)

	result := &InvocationResult{Key: inv.Key}
	switch {
	case err != nil:
		iv.logger.Warn("invocation failed", "function", inv.FunctionName, "key", inv.Key, "error", err)
		result.ReturnCode = ReturnFailure
		result.Payload = buffer.FromString(err.Error())
	case !status.Reported():
		iv.logger.Warn("substituting failure code", "function", inv.FunctionName, "key", inv.Key,
			"error", ErrProtocolViolation, "code", ReturnFailure)
		result.ReturnCode = ReturnFailure
		result.Payload = pctx.reportedOutput()
	default:
		result.ReturnCode = status.Value()
		result.Payload = pctx.reportedOutput()
	}

	if result.ReturnCode == ReturnSuccess {
		track(inv.Key, StateCompleted)
	} else {
		atomic.AddUint64(&iv.failures, 1)
		track(inv.Key, StateFailed)
	}
	return result
}

// execute runs the handler, converting a panic into an error.
func (iv *Invoker) execute(ctx context.Context, handler Handler, inv *Invocation, pctx *Context) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = Status{}
			err = fmt.Errorf("handler %s panicked: %v", inv.FunctionName, r)
		}
	}()
	return handler.Execute(ctx, inv, pctx)
}

func (iv *Invoker) transition(key string, to LoopState) {
	from := LoopState(atomic.SwapInt32(&iv.loopState, int32(to)))
	if iv.OnTransition != nil {
		iv.OnTransition(key, from, to)
	}
}
