package cluster

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/najoast/praas/core"
)

// BreakerConfig configures the per-target circuit breakers.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open
	MaxRequests uint32

	// Interval clears the failure counts while closed, zero never clears them
	Interval time.Duration

	// Timeout is how long the breaker stays open
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens it
	FailureThreshold uint32
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// breakerSet holds one circuit breaker per target process.
type breakerSet struct {
	config BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[core.ProcessID]*gobreaker.CircuitBreaker
}

func newBreakerSet(config BreakerConfig, logger *slog.Logger) *breakerSet {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	return &breakerSet{
		config:   config,
		logger:   logger,
		breakers: make(map[core.ProcessID]*gobreaker.CircuitBreaker),
	}
}

func (bs *breakerSet) get(target core.ProcessID) *gobreaker.CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if cb, exists := bs.breakers[target]; exists {
		return cb
	}

	threshold := bs.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(target),
		MaxRequests: bs.config.MaxRequests,
		Interval:    bs.config.Interval,
		Timeout:     bs.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			bs.logger.Warn("circuit breaker state changed", "target", name, "from", from.String(), "to", to.String())
		},
	})
	bs.breakers[target] = cb
	return cb
}

// execute runs send through the breaker of target. An open breaker fails
// fast with a delivery error.
func (bs *breakerSet) execute(op string, target core.ProcessID, send func() error) error {
	_, err := bs.get(target).Execute(func() (interface{}, error) {
		return nil, send()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		bs.logger.Debug("circuit breaker rejected request", "target", string(target), "operation", op)
	}
	return deliveryError(op, target, err)
}

// state returns the breaker state of target.
func (bs *breakerSet) state(target core.ProcessID) gobreaker.State {
	return bs.get(target).State()
}
