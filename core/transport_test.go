package core

import (
	"context"
	"io"
	"sync"

	"github.com/najoast/praas/buffer"
)

type report struct {
	source  ProcessID
	key     string
	payload []byte
	code    int
}

type putCall struct {
	target ProcessID
	key    string
	data   []byte
}

// fakeTransport serves queued messages and records what the loop reports.
type fakeTransport struct {
	mu      sync.Mutex
	queue   chan *Message
	reports []report
	puts    []putCall
	invokes int
	polled  chan struct{}

	pollErr   error
	reportErr error
	putErr    error
	invokeFn  func(ctx context.Context, target ProcessID, inv *Invocation) (*InvocationResult, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{queue: make(chan *Message, 32), polled: make(chan struct{}, 1)}
}

func (f *fakeTransport) enqueue(msgs ...*Message) *fakeTransport {
	for _, msg := range msgs {
		f.queue <- msg
	}
	return f
}

func (f *fakeTransport) invoke(key, function string, args ...*buffer.Buffer) *fakeTransport {
	return f.enqueue(&Message{
		Kind:       MessageInvocation,
		Invocation: &Invocation{Key: key, FunctionName: function, Args: args},
	})
}

func (f *fakeTransport) end() *fakeTransport {
	close(f.queue)
	return f
}

func (f *fakeTransport) Poll(ctx context.Context) (*Message, error) {
	select {
	case f.polled <- struct{}{}:
	default:
	}
	select {
	case msg, ok := <-f.queue:
		if !ok {
			if f.pollErr != nil {
				return nil, f.pollErr
			}
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Report(ctx context.Context, source ProcessID, key string, payload *buffer.Buffer, code int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return f.reportErr
	}
	f.reports = append(f.reports, report{source: source, key: key, payload: payload.Bytes(), code: code})
	return nil
}

func (f *fakeTransport) Put(ctx context.Context, target ProcessID, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, putCall{target: target, key: key, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) Invoke(ctx context.Context, target ProcessID, inv *Invocation) (*InvocationResult, error) {
	f.mu.Lock()
	f.invokes++
	fn := f.invokeFn
	f.mu.Unlock()
	if fn == nil {
		return nil, ErrDelivery
	}
	return fn(ctx, target, inv)
}

func (f *fakeTransport) reported() []report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report(nil), f.reports...)
}
