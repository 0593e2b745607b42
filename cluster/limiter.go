package cluster

import (
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/najoast/praas/core"
)

// RateLimitConfig bounds outbound puts per target process.
type RateLimitConfig struct {
	// Rate is the number of puts allowed per Duration, zero disables limiting
	Rate int64

	// Burst is the bucket capacity
	Burst int64

	// Duration is the refill window
	Duration time.Duration
}

// putLimiter applies a token bucket per target.
type putLimiter struct {
	bucket *limiter.TokenBucket
}

func newPutLimiter(config RateLimitConfig) (*putLimiter, error) {
	if config.Rate <= 0 {
		return &putLimiter{}, nil
	}
	if config.Duration <= 0 {
		config.Duration = time.Second
	}
	if config.Burst <= 0 {
		config.Burst = config.Rate
	}

	bucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     config.Rate,
		Duration: config.Duration,
		Burst:    config.Burst,
	}, store.NewMemoryStore(time.Minute))
	if err != nil {
		return nil, err
	}
	return &putLimiter{bucket: bucket}, nil
}

// allow reports whether another put to target fits in its bucket.
func (pl *putLimiter) allow(target core.ProcessID) bool {
	if pl.bucket == nil {
		return true
	}
	return pl.bucket.Allow(string(target))
}
