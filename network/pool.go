package network

import (
	"context"
	"fmt"
	"sync"
)

// DialFunc opens a connection for a pool key.
type DialFunc func(ctx context.Context, key string) (Connection, error)

// Pool keeps one reusable outbound connection per key.
type Pool struct {
	dial DialFunc

	mu          sync.Mutex
	connections map[string]Connection

	dials int64
}

// NewPool creates a pool that opens missing connections with dial.
func NewPool(dial DialFunc) *Pool {
	return &Pool{
		dial:        dial,
		connections: make(map[string]Connection),
	}
}

// Get returns the live connection for key, dialing a new one when the
// previous connection is missing or closed.
func (p *Pool) Get(ctx context.Context, key string) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, exists := p.connections[key]; exists {
		if conn.State() == ConnectionStateConnected {
			return conn, nil
		}
		delete(p.connections, key)
	}

	conn, err := p.dial(ctx, key)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("dial for %s returned no connection", key)
	}

	p.connections[key] = conn
	p.dials++
	return conn, nil
}

// Remove closes and forgets the connection for key if it is still conn.
func (p *Pool) Remove(key string, conn Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, exists := p.connections[key]; exists && current == conn {
		delete(p.connections, key)
		current.Close()
	}
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// Dials returns how many connections the pool has opened.
func (p *Pool) Dials() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

// CloseAll closes every pooled connection.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, conn := range p.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", key, err))
		}
		delete(p.connections, key)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close failed for %d connections: %v", len(errs), errs)
	}
	return nil
}
