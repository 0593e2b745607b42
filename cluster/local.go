package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/praas/buffer"
	"github.com/najoast/praas/core"
)

// DefaultInvokeTimeout bounds remote invocations when no timeout is configured.
const DefaultInvokeTimeout = 30 * time.Second

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithInvokeTimeout bounds how long callers wait for a result. Zero waits
// until the caller's context ends.
func WithInvokeTimeout(timeout time.Duration) HubOption {
	return func(h *Hub) { h.timeout = timeout }
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger.With("component", "hub")
		}
	}
}

// Hub connects processes living in the same address space. Every attached
// process gets a LocalTransport whose inbox the Hub feeds.
type Hub struct {
	mu        sync.RWMutex
	processes map[core.ProcessID]*LocalTransport
	active    []core.ProcessID
	swapped   []core.ProcessID
	closed    bool

	pending *pendingCalls
	timeout time.Duration
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		processes: make(map[core.ProcessID]*LocalTransport),
		pending:   newPendingCalls(),
		timeout:   DefaultInvokeTimeout,
		logger:    slog.Default().With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach registers id and returns the transport its invoker loop uses.
func (h *Hub) Attach(id core.ProcessID) (*LocalTransport, error) {
	if id == "" || id.IsSymbolic() {
		return nil, fmt.Errorf("%w: %q", ErrMissingProcessID, id)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if _, exists := h.processes[id]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, id)
	}

	lt := &LocalTransport{id: id, hub: h, inbox: newMessageQueue()}
	h.processes[id] = lt
	h.active = append(h.active, id)
	h.mu.Unlock()

	h.logger.Debug("process attached", "process", string(id))
	h.broadcastApplication()
	return lt, nil
}

// Swap removes id from the active set. Its loop sees end-of-stream and every
// remaining process receives the new application status.
func (h *Hub) Swap(id core.ProcessID) error {
	h.mu.Lock()
	lt, exists := h.processes[id]
	if !exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	delete(h.processes, id)
	h.active = removeID(h.active, id)
	h.swapped = append(h.swapped, id)
	h.mu.Unlock()

	lt.inbox.close()
	h.logger.Info("process swapped", "process", string(id))
	h.broadcastApplication()
	return nil
}

// Application returns the current application status.
func (h *Hub) Application() *core.ApplicationStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return (&core.ApplicationStatus{Active: h.active, Swapped: h.swapped}).Clone()
}

// Submit sends inv to target on behalf of an external client and waits for
// the result. An empty key is replaced with a generated one.
func (h *Hub) Submit(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	if inv.Key == "" {
		inv.Key = uuid.NewString()
	}
	return h.invoke(ctx, target, inv)
}

// Pending returns the number of invocations waiting for a result.
func (h *Hub) Pending() int {
	return h.pending.len()
}

// Close ends every attached stream and fails all waiting callers.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	processes := h.processes
	h.processes = make(map[core.ProcessID]*LocalTransport)
	h.mu.Unlock()

	for _, lt := range processes {
		lt.inbox.close()
	}
	h.pending.failAll(ErrTransportClosed)
}

func (h *Hub) lookup(id core.ProcessID) (*LocalTransport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrTransportClosed
	}
	lt, exists := h.processes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	return lt, nil
}

func (h *Hub) invoke(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	lt, err := h.lookup(target)
	if err != nil {
		return nil, deliveryError("invoke", target, err)
	}

	call := callKey{source: inv.Source, target: target, key: inv.Key}
	ch, err := h.pending.register(call)
	if err != nil {
		return nil, deliveryError("invoke", target, err)
	}

	msg := &core.Message{Kind: core.MessageInvocation, Invocation: copyInvocation(inv)}
	if !lt.inbox.push(msg) {
		h.pending.cancel(call)
		return nil, deliveryError("invoke", target, ErrTransportClosed)
	}

	return h.pending.await(ctx, call, ch, h.timeout)
}

func (h *Hub) put(sender, target core.ProcessID, key string, data []byte) error {
	lt, err := h.lookup(target)
	if err != nil {
		return deliveryError("put", target, err)
	}

	msg := &core.Message{
		Kind:   core.MessagePut,
		Sender: sender,
		Key:    key,
		Data:   append([]byte(nil), data...),
	}
	if !lt.inbox.push(msg) {
		return deliveryError("put", target, ErrTransportClosed)
	}
	return nil
}

func (h *Hub) report(from, source core.ProcessID, key string, payload *buffer.Buffer, code int) {
	result := &core.InvocationResult{
		Key:        key,
		ReturnCode: code,
		Payload:    buffer.Wrap(payload.Bytes()),
	}
	call := callKey{source: source, target: from, key: key}
	if !h.pending.resolve(call, outcome{result: result}) {
		h.logger.Debug("dropping result without a waiting caller", "call", call.String(), "code", code)
	}
}

func (h *Hub) broadcastApplication() {
	h.mu.RLock()
	status := (&core.ApplicationStatus{Active: h.active, Swapped: h.swapped}).Clone()
	targets := make([]*LocalTransport, 0, len(h.processes))
	for _, lt := range h.processes {
		targets = append(targets, lt)
	}
	h.mu.RUnlock()

	for _, lt := range targets {
		lt.inbox.push(&core.Message{Kind: core.MessageApplication, Application: status.Clone()})
	}
}

func removeID(ids []core.ProcessID, id core.ProcessID) []core.ProcessID {
	out := make([]core.ProcessID, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// LocalTransport is the core.Transport of a process attached to a Hub.
type LocalTransport struct {
	id    core.ProcessID
	hub   *Hub
	inbox *messageQueue
}

// ID returns the process id the transport was attached with.
func (lt *LocalTransport) ID() core.ProcessID {
	return lt.id
}

// Poll returns the next inbox message, or io.EOF once the hub closed the stream.
func (lt *LocalTransport) Poll(ctx context.Context) (*core.Message, error) {
	return lt.inbox.pop(ctx)
}

// Report hands the result of an invocation to the caller waiting on it.
func (lt *LocalTransport) Report(ctx context.Context, source core.ProcessID, key string, payload *buffer.Buffer, code int) error {
	lt.hub.report(lt.id, source, key, payload, code)
	return nil
}

// Put delivers data into the mailbox of target with this process as sender.
func (lt *LocalTransport) Put(ctx context.Context, target core.ProcessID, key string, data []byte) error {
	return lt.hub.put(lt.id, target, key, data)
}

// Invoke sends inv to target and waits for its result.
func (lt *LocalTransport) Invoke(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	return lt.hub.invoke(ctx, target, inv)
}
