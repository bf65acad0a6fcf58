// Package utils holds small shared helpers.
package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Throttle is a token-bucket rate limiter used to slow down degraded
// sandboxes and bound stats polling.
type Throttle struct {
	limit      int
	interval   time.Duration
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// ErrThrottleCanceled indicates the context was canceled while waiting.
var ErrThrottleCanceled = errors.New("context canceled while waiting for throttle")

// NewThrottle creates a limiter allowing limit operations per interval.
// Invalid parameters fall back to 100 ops/second.
func NewThrottle(limit int, interval time.Duration) *Throttle {
	if limit <= 0 || interval <= 0 {
		limit = 100
		interval = time.Second
	}
	return &Throttle{
		limit:      limit,
		interval:   interval,
		tokens:     limit,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		waitTime, ok := t.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrThrottleCanceled
		case <-time.After(waitTime):
		}
	}
}

// tryAcquire takes a token if one is available, otherwise returns how long
// to wait before retrying.
func (t *Throttle) tryAcquire() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastRefill)

	if elapsed >= t.interval {
		t.tokens = t.limit
		t.lastRefill = now
	} else if refill := int(float64(elapsed) / float64(t.interval) * float64(t.limit)); refill > 0 {
		t.tokens = min(t.limit, t.tokens+refill)
		t.lastRefill = t.lastRefill.Add(elapsed)
	}

	if t.tokens > 0 {
		t.tokens--
		return 0, true
	}

	perToken := t.interval / time.Duration(t.limit)
	return perToken - elapsed%perToken, false
}
