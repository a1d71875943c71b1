package didplc

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at a steady rate.
type RateLimiter struct {
	tokens     chan struct{}
	refillRate time.Duration
	stopRefill chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter allows requestsPerPeriod calls per period, starting full.
func NewRateLimiter(requestsPerPeriod int, period time.Duration) *RateLimiter {
	if requestsPerPeriod <= 0 {
		requestsPerPeriod = 1
	}
	rl := &RateLimiter{
		tokens:     make(chan struct{}, requestsPerPeriod),
		refillRate: period / time.Duration(requestsPerPeriod),
		stopRefill: make(chan struct{}),
	}
	if rl.refillRate <= 0 {
		rl.refillRate = time.Millisecond
	}
	for i := 0; i < requestsPerPeriod; i++ {
		rl.tokens <- struct{}{}
	}
	go rl.refill()
	return rl
}

func (rl *RateLimiter) refill() {
	ticker := time.NewTicker(rl.refillRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		case <-rl.stopRefill:
			return
		}
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopRefill) })
}
