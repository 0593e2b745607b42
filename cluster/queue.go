package cluster

import (
	"context"
	"io"
	"sync"

	"github.com/najoast/praas/core"
)

// messageQueue is the unbounded inbox a process loop polls. Pushing never
// blocks, so a process busy in a handler cannot stall its senders.
type messageQueue struct {
	mu     sync.Mutex
	items  []*core.Message
	notify chan struct{}
	closed bool
}

func newMessageQueue() *messageQueue {
	return &messageQueue{notify: make(chan struct{}, 1)}
}

// push appends msg and reports whether the queue was still open.
func (q *messageQueue) push(msg *core.Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a message is available. Once the queue is closed and
// drained it returns io.EOF.
func (q *messageQueue) pop(ctx context.Context) (*core.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, io.EOF
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *messageQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
