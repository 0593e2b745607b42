package network

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// ConnectionState represents the state of a network connection
type ConnectionState int

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateClosed
)

// String returns the string representation of ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is a framed, full-duplex connection
type Connection interface {
	// ID returns the unique identifier for this connection
	ID() string

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr

	// LocalAddr returns the local network address
	LocalAddr() net.Addr

	// Send queues a frame for writing
	Send(f *Frame) error

	// ReadFrame blocks until the next frame arrives
	ReadFrame() (*Frame, error)

	// Close closes the connection
	Close() error

	// State returns the current connection state
	State() ConnectionState

	// SetReadTimeout sets the read timeout, zero disables it
	SetReadTimeout(timeout time.Duration)

	// SetWriteTimeout sets the write timeout, zero disables it
	SetWriteTimeout(timeout time.Duration)

	// LastActivity returns the time of the last read or write
	LastActivity() time.Time

	// UserData returns user-defined data associated with this connection
	UserData() interface{}

	// SetUserData sets user-defined data for this connection
	SetUserData(data interface{})

	// Statistics returns connection statistics
	Statistics() ConnectionStatistics
}

// Server accepts framed connections and hands their frames to a FrameHandler
type Server interface {
	// Start starts listening
	Start() error

	// Stop closes the listener and every accepted connection
	Stop() error

	// Addr returns the listening address
	Addr() net.Addr

	// Connections returns all active connections
	Connections() []Connection

	// ConnectionCount returns the number of active connections
	ConnectionCount() int

	// Statistics returns server statistics
	Statistics() ServerStatistics
}

// FrameHandler receives frames read from a connection
type FrameHandler interface {
	// OnFrame is called for every frame, on the connection's read goroutine
	OnFrame(conn Connection, f *Frame)

	// OnDisconnect is called once when the read loop ends
	OnDisconnect(conn Connection, err error)
}

// Config represents network configuration
type Config struct {
	// Address is the listening address
	Address string

	// Port is the listening port, zero picks a free one
	Port int

	// ReadTimeout bounds a single frame read, zero disables it
	ReadTimeout time.Duration

	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration

	// DialTimeout bounds outbound connection setup
	DialTimeout time.Duration

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// MaxConnections is the maximum number of accepted connections
	MaxConnections int

	// SendQueueSize is the number of frames buffered per connection
	SendQueueSize int

	// Logger receives connection diagnostics
	Logger *slog.Logger
}

// DefaultConfig returns a default network configuration
func DefaultConfig() *Config {
	return &Config{
		Address:           "127.0.0.1",
		Port:              0,
		ReadTimeout:       0,
		WriteTimeout:      10 * time.Second,
		DialTimeout:       5 * time.Second,
		KeepAlive:         true,
		KeepAliveInterval: 60 * time.Second,
		MaxConnections:    1000,
		SendQueueSize:     256,
	}
}

// ListenAddress returns the host:port the server binds to
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) configure(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok && c.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(c.KeepAliveInterval)
	}
}
