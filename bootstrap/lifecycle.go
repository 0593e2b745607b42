package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultServiceTimeout bounds each Start and Stop call.
const DefaultServiceTimeout = 30 * time.Second

// healthTimeout bounds each service probe.
const healthTimeout = 5 * time.Second

// eventBuffer is the capacity of the Events channel.
const eventBuffer = 100

type registration struct {
	service Service
	deps    []string
}

// DefaultLifecycleManager starts services in dependency order and rolls
// back a partial start.
type DefaultLifecycleManager struct {
	mu        sync.RWMutex
	services  map[string]registration
	running   []string // started services, in start order
	started   bool
	stopping  bool
	timeout   time.Duration
	listeners []func(LifecycleEvent)
	events    chan LifecycleEvent
	logger    *slog.Logger
}

// NewLifecycleManager creates an empty manager.
func NewLifecycleManager(logger *slog.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultLifecycleManager{
		services: make(map[string]registration),
		timeout:  DefaultServiceTimeout,
		events:   make(chan LifecycleEvent, eventBuffer),
		logger:   logger.With("component", "lifecycle"),
	}
}

// Register adds service under name. Dependencies are resolved at Start, so
// they may be registered later.
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	switch {
	case name == "":
		return errors.New("service name cannot be empty")
	case service == nil:
		return fmt.Errorf("service %s is nil", name)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, dup := lm.services[name]; dup {
		return fmt.Errorf("service %s is already registered", name)
	}
	lm.services[name] = registration{service: service, deps: slices.Clone(deps)}
	lm.emit(EventServiceRegistered, name, nil, map[string]interface{}{"dependencies": deps})
	return nil
}

// Start starts every service after its dependencies. When one fails, the
// services already running are stopped newest first.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return errors.New("lifecycle manager already started")
	}

	order, err := startOrder(lm.services)
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}
	lm.emit(EventLifecycleStarting, "", nil, map[string]interface{}{"order": order})

	for _, name := range order {
		lm.emit(EventServiceStarting, name, nil, nil)
		if err := lm.call(ctx, lm.services[name].service.Start); err != nil {
			lm.emit(EventServiceStartFailed, name, err, nil)
			lm.logger.Error("service failed to start", "service", name, "error", err)
			if rollbackErr := lm.stopRunning(context.WithoutCancel(ctx)); rollbackErr != nil {
				lm.logger.Warn("rollback after failed start", "error", rollbackErr)
			}
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}
		lm.running = append(lm.running, name)
		lm.logger.Debug("service started", "service", name)
		lm.emit(EventServiceStarted, name, nil, nil)
	}

	lm.started = true
	lm.emit(EventLifecycleStarted, "", nil, nil)
	return nil
}

// Stop stops the running services in reverse start order. Stopping a
// manager that is not started does nothing.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.started {
		return nil
	}
	if lm.stopping {
		return errors.New("lifecycle manager already stopping")
	}
	lm.stopping = true
	defer func() { lm.stopping = false }()

	lm.emit(EventLifecycleStopping, "", nil, nil)
	err := lm.stopRunning(ctx)
	lm.started = false
	lm.emit(EventLifecycleStopped, "", nil, nil)
	return err
}

// stopRunning stops lm.running newest first and joins the failures. The
// caller holds mu.
func (lm *DefaultLifecycleManager) stopRunning(ctx context.Context) error {
	var errs []error
	for i := len(lm.running) - 1; i >= 0; i-- {
		name := lm.running[i]
		lm.emit(EventServiceStopping, name, nil, nil)
		if err := lm.call(ctx, lm.services[name].service.Stop); err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.emit(EventServiceStopFailed, name, err, nil)
			continue
		}
		lm.emit(EventServiceStopped, name, nil, nil)
	}
	lm.running = nil
	return errors.Join(errs...)
}

// call runs fn under the per-service timeout.
func (lm *DefaultLifecycleManager) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, lm.timeout)
	defer cancel()
	return fn(callCtx)
}

// Health probes every service concurrently. A probe error is reported as
// an unhealthy status rather than returned.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mu.RLock()
	services := make(map[string]Service, len(lm.services))
	for name, reg := range lm.services {
		services[name] = reg.service
	}
	lm.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		health = make(map[string]HealthStatus, len(services))
	)
	for name, service := range services {
		name, service := name, service
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()

			status, err := service.Health(probeCtx)
			if err != nil {
				status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
			}
			if status.LastCheck.IsZero() {
				status.LastCheck = time.Now()
			}
			mu.Lock()
			health[name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()
	return health, nil
}

// Services returns the registered names, sorted.
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Events returns the buffered event channel.
func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.events
}

// AddListener registers listener for every later event.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout changes the per-service Start and Stop timeout.
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.timeout = timeout
}

// IsStarted reports whether Start succeeded and Stop has not run since.
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.started
}

// GetService returns the service registered under name.
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	reg, ok := lm.services[name]
	return reg.service, ok
}

// emit publishes an event. The caller holds mu.
func (lm *DefaultLifecycleManager) emit(typ EventType, service string, err error, data map[string]interface{}) {
	event := LifecycleEvent{Type: typ, Service: service, Timestamp: time.Now(), Error: err, Data: data}

	select {
	case lm.events <- event:
	default:
	}

	for _, listener := range lm.listeners {
		listener := listener
		go func() {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Error("lifecycle listener panicked", "event", string(typ), "panic", r)
				}
			}()
			listener(event)
		}()
	}
}

// startOrder sorts services topologically with Kahn's algorithm. Among
// services that are ready at the same time, names start in sorted order.
func startOrder(services map[string]registration) ([]string, error) {
	pending := make(map[string]int, len(services))
	dependents := make(map[string][]string)
	for name, reg := range services {
		pending[name] += 0
		for _, dep := range reg.deps {
			if _, ok := services[dep]; !ok {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			pending[name]++
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := slices.Clone(dependents[name])
		slices.Sort(next)
		for _, dependent := range next {
			if pending[dependent]--; pending[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(services) {
		return nil, errors.New("circular dependency detected")
	}
	return order, nil
}
