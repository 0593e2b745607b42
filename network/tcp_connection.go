package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnectionClosed is returned by operations on a closed connection
var ErrConnectionClosed = errors.New("connection is closed")

// tcpConnection implements the Connection interface for TCP connections
type tcpConnection struct {
	id           string
	conn         net.Conn
	state        int32 // ConnectionState as atomic int32
	userData     interface{}
	readTimeout  time.Duration
	writeTimeout time.Duration
	lastActivity int64 // Unix nanoseconds as atomic int64
	codec        *FrameCodec

	// Synchronization
	mu        sync.RWMutex
	closed    int32 // atomic flag
	sendChan  chan *Frame
	done      chan struct{}
	sequence  uint64
	closeOnce sync.Once

	// Statistics
	bytesRead    int64
	bytesWritten int64
	framesRead   int64
	framesSent   int64
}

// connectionIDCounter generates unique connection IDs
var connectionIDCounter int64

// NewTCPConnection wraps conn and starts its send goroutine
func NewTCPConnection(conn net.Conn, cfg *Config) Connection {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = 1
	}

	tc := &tcpConnection{
		id:           fmt.Sprintf("tcp-%d", atomic.AddInt64(&connectionIDCounter, 1)),
		conn:         conn,
		state:        int32(ConnectionStateConnected),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		lastActivity: time.Now().UnixNano(),
		codec:        NewFrameCodec(),
		sendChan:     make(chan *Frame, queue),
		done:         make(chan struct{}),
	}

	go tc.sendLoop()

	return tc
}

// ID returns the connection ID
func (tc *tcpConnection) ID() string {
	return tc.id
}

// RemoteAddr returns the remote address
func (tc *tcpConnection) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (tc *tcpConnection) LocalAddr() net.Addr {
	return tc.conn.LocalAddr()
}

// Send stamps f with the next sequence number and queues it
func (tc *tcpConnection) Send(f *Frame) error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if tc.isClosed() {
		return fmt.Errorf("%w: %s", ErrConnectionClosed, tc.id)
	}

	f.Sequence = atomic.AddUint64(&tc.sequence, 1)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	select {
	case tc.sendChan <- f:
		return nil
	case <-tc.done:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, tc.id)
	}
}

// ReadFrame reads the next frame from the connection
func (tc *tcpConnection) ReadFrame() (*Frame, error) {
	if tc.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrConnectionClosed, tc.id)
	}

	tc.mu.RLock()
	readTimeout := tc.readTimeout
	tc.mu.RUnlock()

	if readTimeout > 0 {
		if err := tc.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	f, n, err := tc.codec.ReadFrame(tc.conn)
	atomic.AddInt64(&tc.bytesRead, int64(n))
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&tc.framesRead, 1)
	tc.updateActivity()
	f.ConnectionID = tc.id
	return f, nil
}

// Close closes the connection
func (tc *tcpConnection) Close() error {
	var err error
	tc.closeOnce.Do(func() {
		atomic.StoreInt32(&tc.closed, 1)
		atomic.StoreInt32(&tc.state, int32(ConnectionStateClosed))
		close(tc.done)
		err = tc.conn.Close()
	})
	return err
}

// State returns the current connection state
func (tc *tcpConnection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&tc.state))
}

// SetReadTimeout sets the read timeout
func (tc *tcpConnection) SetReadTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.readTimeout = timeout
}

// SetWriteTimeout sets the write timeout
func (tc *tcpConnection) SetWriteTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.writeTimeout = timeout
}

// LastActivity returns the last activity timestamp
func (tc *tcpConnection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&tc.lastActivity))
}

// UserData returns user-defined data
func (tc *tcpConnection) UserData() interface{} {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.userData
}

// SetUserData sets user-defined data
func (tc *tcpConnection) SetUserData(data interface{}) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.userData = data
}

// Statistics returns connection statistics
func (tc *tcpConnection) Statistics() ConnectionStatistics {
	return ConnectionStatistics{
		ConnectionID: tc.id,
		State:        tc.State(),
		BytesRead:    atomic.LoadInt64(&tc.bytesRead),
		BytesWritten: atomic.LoadInt64(&tc.bytesWritten),
		FramesRead:   atomic.LoadInt64(&tc.framesRead),
		FramesSent:   atomic.LoadInt64(&tc.framesSent),
		LastActivity: tc.LastActivity(),
		RemoteAddr:   tc.RemoteAddr().String(),
		LocalAddr:    tc.LocalAddr().String(),
	}
}

func (tc *tcpConnection) isClosed() bool {
	return atomic.LoadInt32(&tc.closed) != 0
}

// sendLoop writes queued frames until the connection closes
func (tc *tcpConnection) sendLoop() {
	for {
		select {
		case <-tc.done:
			return
		case f := <-tc.sendChan:
			if err := tc.write(f); err != nil {
				tc.Close()
				return
			}
		}
	}
}

func (tc *tcpConnection) write(f *Frame) error {
	tc.mu.RLock()
	writeTimeout := tc.writeTimeout
	tc.mu.RUnlock()

	if writeTimeout > 0 {
		if err := tc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	n, err := tc.codec.WriteFrame(tc.conn, f)
	atomic.AddInt64(&tc.bytesWritten, int64(n))
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	atomic.AddInt64(&tc.framesSent, 1)
	tc.updateActivity()
	return nil
}

func (tc *tcpConnection) updateActivity() {
	atomic.StoreInt64(&tc.lastActivity, time.Now().UnixNano())
}

// Serve reads frames from conn and hands them to handler until the
// connection fails or closes. The read error is passed to OnDisconnect.
func Serve(conn Connection, handler FrameHandler) error {
	var err error
	defer func() {
		handler.OnDisconnect(conn, err)
	}()

	for {
		var f *Frame
		f, err = conn.ReadFrame()
		if err != nil {
			conn.Close()
			return err
		}
		handler.OnFrame(conn, f)
	}
}

// ConnectionStatistics holds statistics for a connection
type ConnectionStatistics struct {
	ConnectionID string          `json:"connection_id"`
	State        ConnectionState `json:"state"`
	BytesRead    int64           `json:"bytes_read"`
	BytesWritten int64           `json:"bytes_written"`
	FramesRead   int64           `json:"frames_read"`
	FramesSent   int64           `json:"frames_sent"`
	LastActivity time.Time       `json:"last_activity"`
	RemoteAddr   string          `json:"remote_addr"`
	LocalAddr    string          `json:"local_addr"`
}

// String returns the string representation of connection statistics
func (cs ConnectionStatistics) String() string {
	return fmt.Sprintf("Connection[%s] State=%s BytesR/W=%d/%d FramesR/S=%d/%d LastActivity=%s Remote=%s",
		cs.ConnectionID, cs.State, cs.BytesRead, cs.BytesWritten,
		cs.FramesRead, cs.FramesSent, cs.LastActivity.Format(time.RFC3339),
		cs.RemoteAddr)
}
