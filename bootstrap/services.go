package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/najoast/praas/cluster"
	"github.com/najoast/praas/core"
)

// Service names registered by ProcessApplication.
const (
	ServiceTransport = "transport"
	ServiceInvoker   = "invoker"
)

// ProcessService runs an invoker loop in the background.
type ProcessService struct {
	invoker *core.Invoker
	logger  *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startedAt time.Time
}

// NewProcessService wraps invoker.
func NewProcessService(invoker *core.Invoker, logger *slog.Logger) *ProcessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessService{
		invoker: invoker,
		logger:  logger.With("component", "process-service", "process", string(invoker.ID())),
		done:    make(chan struct{}),
	}
}

// Name returns the service name
func (s *ProcessService) Name() string {
	return ServiceInvoker
}

// Start launches the loop. The loop outlives ctx, which only bounds startup.
func (s *ProcessService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("invoker loop already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startedAt = time.Now()

	go func() {
		err := s.invoker.Run(runCtx)
		if err != nil {
			s.logger.Error("invoker loop failed", "error", err)
		} else {
			s.logger.Info("invoker loop finished")
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Stop cancels the loop and waits for it to return.
func (s *ProcessService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for invoker loop: %w", ctx.Err())
	}
}

// Done is closed when the loop returns.
func (s *ProcessService) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the loop ended with, nil while it runs or after a
// clean end-of-stream.
func (s *ProcessService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Health reports the loop state and counters.
func (s *ProcessService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.invoker.Stats()
	data := map[string]interface{}{
		"state":             stats.State.String(),
		"invocations":       stats.Invocations,
		"failures":          stats.Failures,
		"unknown_functions": stats.UnknownFunctions,
	}

	s.mu.Lock()
	started := s.cancel != nil
	startedAt := s.startedAt
	err := s.err
	s.mu.Unlock()

	select {
	case <-s.done:
		if err != nil {
			return HealthStatus{State: HealthCritical, Message: err.Error(), Data: data}, nil
		}
		return HealthStatus{State: HealthStopped, Message: "invoker loop finished", Data: data}, nil
	default:
	}

	if !started {
		return HealthStatus{State: HealthUnknown, Message: "invoker loop not started", Data: data}, nil
	}
	data["uptime"] = time.Since(startedAt).Round(time.Millisecond).String()
	return HealthStatus{State: HealthHealthy, Message: "invoker loop running", Data: data}, nil
}

// TransportService manages a TCP transport.
type TransportService struct {
	transport *cluster.TCPTransport

	mu      sync.Mutex
	running bool
}

// NewTransportService wraps transport.
func NewTransportService(transport *cluster.TCPTransport) *TransportService {
	return &TransportService{transport: transport}
}

// Name returns the service name
func (s *TransportService) Name() string {
	return ServiceTransport
}

// Start begins listening.
func (s *TransportService) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

// Stop closes the listener and every connection.
func (s *TransportService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.transport.Stop(ctx)
}

// Health reports the transport counters.
func (s *TransportService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.transport.Statistics()
	data := map[string]interface{}{
		"frames_received": stats.FramesReceived,
		"frames_sent":     stats.FramesSent,
		"decode_errors":   stats.DecodeErrors,
		"rejected_puts":   stats.RejectedPuts,
		"pending":         stats.Pending,
		"connections":     stats.Connections,
	}
	if addr := s.transport.Addr(); addr != nil {
		data["address"] = addr.String()
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return HealthStatus{State: HealthStopped, Message: "transport not listening", Data: data}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: "transport listening", Data: data}, nil
}

// HubService manages a process attached to an in-process hub. Stopping
// swaps the process out, or closes the hub when the service owns it.
type HubService struct {
	hub  *cluster.Hub
	id   core.ProcessID
	owns bool

	mu      sync.Mutex
	stopped bool
}

// NewHubService wraps the attachment of id to hub.
func NewHubService(hub *cluster.Hub, id core.ProcessID, owns bool) *HubService {
	return &HubService{hub: hub, id: id, owns: owns}
}

// Name returns the service name
func (s *HubService) Name() string {
	return ServiceTransport
}

// Start is a no-op; the process is attached when the hub transport is created.
func (s *HubService) Start(ctx context.Context) error {
	return nil
}

// Stop detaches the process.
func (s *HubService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	if s.owns {
		s.hub.Close()
		return nil
	}
	if err := s.hub.Swap(s.id); err != nil && !errors.Is(err, cluster.ErrUnknownProcess) {
		return err
	}
	return nil
}

// Health reports whether the process is still active on the hub.
func (s *HubService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	app := s.hub.Application()
	data := map[string]interface{}{
		"active":  len(app.Active),
		"swapped": len(app.Swapped),
		"pending": s.hub.Pending(),
	}
	if !stopped && slices.Contains(app.Active, s.id) {
		return HealthStatus{State: HealthHealthy, Message: "attached to hub", Data: data}, nil
	}
	return HealthStatus{State: HealthStopped, Message: "detached from hub", Data: data}, nil
}
