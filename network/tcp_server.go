package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// tcpServer implements the Server interface for TCP
type tcpServer struct {
	config   *Config
	handler  FrameHandler
	logger   *slog.Logger
	listener net.Listener
	running  int32 // atomic flag

	connections   map[string]Connection
	connectionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalConnections   int64
	currentConnections int64
	totalFrames        int64
	startTime          time.Time
}

// NewTCPServer creates a TCP server that serves every accepted connection
// with handler.
func NewTCPServer(config *Config, handler FrameHandler) (Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if handler == nil {
		return nil, fmt.Errorf("frame handler is nil")
	}

	return &tcpServer{
		config:      config,
		handler:     handler,
		logger:      config.logger().With("component", "tcp-server"),
		connections: make(map[string]Connection),
	}, nil
}

// Start starts the TCP server
func (ts *tcpServer) Start() error {
	if !atomic.CompareAndSwapInt32(&ts.running, 0, 1) {
		return fmt.Errorf("server is already running")
	}

	address := ts.config.ListenAddress()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		atomic.StoreInt32(&ts.running, 0)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	ts.listener = listener
	ts.ctx, ts.cancel = context.WithCancel(context.Background())
	ts.startTime = time.Now()

	ts.wg.Add(1)
	go ts.acceptLoop()

	ts.logger.Info("tcp server started", "address", listener.Addr().String())
	return nil
}

// Stop stops the TCP server gracefully
func (ts *tcpServer) Stop() error {
	if !atomic.CompareAndSwapInt32(&ts.running, 1, 0) {
		return nil
	}

	ts.cancel()
	ts.listener.Close()

	ts.connectionsMu.Lock()
	for _, conn := range ts.connections {
		conn.Close()
	}
	ts.connectionsMu.Unlock()

	ts.wg.Wait()

	ts.logger.Info("tcp server stopped")
	return nil
}

// Addr returns the listening address
func (ts *tcpServer) Addr() net.Addr {
	if ts.listener == nil {
		return nil
	}
	return ts.listener.Addr()
}

// Connections returns all active connections
func (ts *tcpServer) Connections() []Connection {
	ts.connectionsMu.RLock()
	defer ts.connectionsMu.RUnlock()

	connections := make([]Connection, 0, len(ts.connections))
	for _, conn := range ts.connections {
		connections = append(connections, conn)
	}
	return connections
}

// ConnectionCount returns the number of active connections
func (ts *tcpServer) ConnectionCount() int {
	return int(atomic.LoadInt64(&ts.currentConnections))
}

// Statistics returns server statistics
func (ts *tcpServer) Statistics() ServerStatistics {
	address := ""
	if addr := ts.Addr(); addr != nil {
		address = addr.String()
	}
	return ServerStatistics{
		Address:            address,
		Running:            atomic.LoadInt32(&ts.running) == 1,
		StartTime:          ts.startTime,
		Uptime:             time.Since(ts.startTime),
		TotalConnections:   atomic.LoadInt64(&ts.totalConnections),
		CurrentConnections: atomic.LoadInt64(&ts.currentConnections),
		TotalFrames:        atomic.LoadInt64(&ts.totalFrames),
	}
}

// acceptLoop accepts incoming connections
func (ts *tcpServer) acceptLoop() {
	defer ts.wg.Done()

	for {
		conn, err := ts.listener.Accept()
		if err != nil {
			select {
			case <-ts.ctx.Done():
				return
			default:
				ts.logger.Warn("failed to accept connection", "error", err)
				continue
			}
		}

		if ts.config.MaxConnections > 0 && atomic.LoadInt64(&ts.currentConnections) >= int64(ts.config.MaxConnections) {
			ts.logger.Warn("connection limit reached, rejecting connection",
				"limit", ts.config.MaxConnections, "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		ts.config.configure(conn)
		connection := NewTCPConnection(conn, ts.config)
		if !ts.addConnection(connection) {
			connection.Close()
			return
		}
		atomic.AddInt64(&ts.totalConnections, 1)

		ts.wg.Add(1)
		go ts.handleConnection(connection)
	}
}

// handleConnection serves frames for a single connection
func (ts *tcpServer) handleConnection(conn Connection) {
	defer ts.wg.Done()
	defer ts.removeConnection(conn.ID())

	Serve(conn, frameCounter{FrameHandler: ts.handler, total: &ts.totalFrames})
}

// addConnection registers conn unless the server is stopping.
func (ts *tcpServer) addConnection(conn Connection) bool {
	ts.connectionsMu.Lock()
	defer ts.connectionsMu.Unlock()

	if ts.ctx.Err() != nil {
		return false
	}
	ts.connections[conn.ID()] = conn
	atomic.AddInt64(&ts.currentConnections, 1)
	return true
}

func (ts *tcpServer) removeConnection(connID string) {
	ts.connectionsMu.Lock()
	defer ts.connectionsMu.Unlock()

	if _, exists := ts.connections[connID]; exists {
		delete(ts.connections, connID)
		atomic.AddInt64(&ts.currentConnections, -1)
	}
}

// frameCounter counts frames on their way to the wrapped handler.
type frameCounter struct {
	FrameHandler
	total *int64
}

func (fc frameCounter) OnFrame(conn Connection, f *Frame) {
	atomic.AddInt64(fc.total, 1)
	fc.FrameHandler.OnFrame(conn, f)
}

// ServerStatistics holds statistics for a server
type ServerStatistics struct {
	Address            string        `json:"address"`
	Running            bool          `json:"running"`
	StartTime          time.Time     `json:"start_time"`
	Uptime             time.Duration `json:"uptime"`
	TotalConnections   int64         `json:"total_connections"`
	CurrentConnections int64         `json:"current_connections"`
	TotalFrames        int64         `json:"total_frames"`
}

// String returns the string representation of server statistics
func (ss ServerStatistics) String() string {
	return fmt.Sprintf("Server[%s] Running=%t Uptime=%s Connections=%d/%d Frames=%d",
		ss.Address, ss.Running, ss.Uptime.Truncate(time.Second),
		ss.CurrentConnections, ss.TotalConnections, ss.TotalFrames)
}
