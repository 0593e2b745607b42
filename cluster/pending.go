package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/najoast/praas/core"
)

// outcome is what a waiting caller receives for its invocation key.
type outcome struct {
	result *core.InvocationResult
	err    error
}

// callKey identifies an in-flight invocation. Keys are only unique per
// source, and a source may reuse one key towards different targets.
type callKey struct {
	source core.ProcessID
	target core.ProcessID
	key    string
}

func (k callKey) String() string {
	return fmt.Sprintf("%s->%s/%s", k.source, k.target, k.key)
}

// pendingCalls correlates in-flight invocations with their results.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[callKey]chan outcome
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[callKey]chan outcome)}
}

// register reserves key and returns the channel its outcome arrives on.
func (p *pendingCalls) register(key callKey) (<-chan outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.calls[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key.key)
	}
	ch := make(chan outcome, 1)
	p.calls[key] = ch
	return ch, nil
}

// resolve delivers the outcome for key. It reports false when nobody waits.
func (p *pendingCalls) resolve(key callKey, o outcome) bool {
	p.mu.Lock()
	ch, exists := p.calls[key]
	delete(p.calls, key)
	p.mu.Unlock()

	if !exists {
		return false
	}
	ch <- o
	return true
}

func (p *pendingCalls) cancel(key callKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls, key)
}

// failAll resolves every waiting caller with err.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[callKey]chan outcome)
	p.mu.Unlock()

	for _, ch := range calls {
		ch <- outcome{err: err}
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// await waits for the outcome of key. A positive timeout bounds the wait and
// its expiry yields core.ErrInvokeTimeout.
func (p *pendingCalls) await(ctx context.Context, key callKey, ch <-chan outcome, timeout time.Duration) (*core.InvocationResult, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, deliveryError("invoke", key.target, o.err)
		}
		return o.result, nil
	case <-expired:
		p.cancel(key)
		return nil, &core.ProcessError{
			Operation: "invoke",
			Process:   key.target,
			Err:       fmt.Errorf("%w after %s", core.ErrInvokeTimeout, timeout),
		}
	case <-ctx.Done():
		p.cancel(key)
		return nil, deliveryError("invoke", key.target, ctx.Err())
	}
}
