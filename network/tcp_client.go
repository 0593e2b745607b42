package network

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to address and returns a framed connection. When handler is
// not nil, frames arriving on the connection are served to it on a separate
// goroutine.
func Dial(ctx context.Context, address string, config *Config, handler FrameHandler) (Connection, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dialer := &net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	config.configure(conn)

	connection := NewTCPConnection(conn, config)
	if handler != nil {
		go Serve(connection, handler)
	}

	config.logger().Debug("tcp connection established",
		"component", "tcp-client", "address", address, "connection", connection.ID())
	return connection, nil
}
