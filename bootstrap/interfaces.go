// Package bootstrap provides service lifecycle management and the process
// application that wires configuration, functions, transport and the
// invoker loop together.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service is a component started and stopped by a LifecycleManager.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (HealthStatus, error)
	Name() string
}

// HealthStatus is one service's answer to a health probe.
type HealthStatus struct {
	State     HealthState            `json:"state"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"last_check,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// HealthState classifies a HealthStatus.
type HealthState string

// Health states.
const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthCritical  HealthState = "critical"
	HealthStopping  HealthState = "stopping"
	HealthStopped   HealthState = "stopped"
)

// String returns the state name.
func (s HealthState) String() string {
	return string(s)
}

// Serving reports whether the service accepts work in this state.
func (s HealthState) Serving() bool {
	return s == HealthHealthy || s == HealthUnhealthy
}

// LifecycleManager starts services after their dependencies and stops them
// in reverse.
type LifecycleManager interface {
	Register(name string, service Service, deps ...string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Health probes every registered service.
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns the registered names, sorted.
	Services() []string

	// Events delivers lifecycle events while the buffer has room; events
	// are dropped otherwise.
	Events() <-chan LifecycleEvent

	// AddListener calls listener for every event on its own goroutine.
	AddListener(listener func(LifecycleEvent))
}

// EventType names a lifecycle transition.
type EventType string

// Lifecycle event types.
const (
	EventServiceRegistered  EventType = "service.registered"
	EventServiceStarting    EventType = "service.starting"
	EventServiceStarted     EventType = "service.started"
	EventServiceStartFailed EventType = "service.start_failed"
	EventServiceStopping    EventType = "service.stopping"
	EventServiceStopped     EventType = "service.stopped"
	EventServiceStopFailed  EventType = "service.stop_failed"
	EventLifecycleStarting  EventType = "lifecycle.starting"
	EventLifecycleStarted   EventType = "lifecycle.started"
	EventLifecycleStopping  EventType = "lifecycle.stopping"
	EventLifecycleStopped   EventType = "lifecycle.stopped"
)

// LifecycleEvent records one transition. Service is empty for events about
// the manager itself.
type LifecycleEvent struct {
	Type      EventType              `json:"type"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     error                  `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ApplicationError reports which operation, and which service if any, failed.
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
