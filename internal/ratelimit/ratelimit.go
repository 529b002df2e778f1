// Package ratelimit provides a sliding-window request limiter for
// exchange API budgets. Venues price endpoints in request weight, so
// Acquire takes the weight of the call about to be made and blocks
// until that many slots are free in the window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxRequests  = 900
	DefaultWindow       = 60 * time.Second
	DefaultSafetyMargin = 0.90

	// skewPad covers clock skew between purge and slot expiry.
	skewPad = 10 * time.Millisecond
)

// Limiter tracks request timestamps over a sliding window and blocks
// callers once the budget is spent.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	stamps   []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter that admits maxRequests*safetyMargin calls per
// window. The margin leaves headroom for bursts the budget math misses.
// Non-positive arguments take defaults.
func New(maxRequests int, window time.Duration, safetyMargin float64) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = DefaultSafetyMargin
	}
	capacity := int(float64(maxRequests) * safetyMargin)
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Acquire takes weight slots from the window, blocking until they free
// up. It returns the total time spent waiting. Cancellation of ctx
// aborts the wait with ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, weight int) (time.Duration, error) {
	if weight < 1 {
		weight = 1
	}
	var waited time.Duration
	for i := 0; i < weight; i++ {
		w, err := l.acquireOne(ctx)
		waited += w
		if err != nil {
			return waited, err
		}
	}
	return waited, nil
}

func (l *Limiter) acquireOne(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	l.mu.Lock()
	for {
		now := l.now()
		l.purgeLocked(now)
		if len(l.stamps) < l.capacity {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return waited, nil
		}
		// wait for the oldest slot to age out of the window
		wait := l.stamps[0].Add(l.window).Sub(now) + skewPad
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
		l.mu.Lock()
	}
}

// Available returns the number of slots currently free.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())
	free := l.capacity - len(l.stamps)
	if free < 0 {
		free = 0
	}
	return free
}

// UsagePct returns window usage as a fraction of capacity.
func (l *Limiter) UsagePct() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())
	if l.capacity == 0 {
		return 0
	}
	return float64(len(l.stamps)) / float64(l.capacity)
}

// Status is a point-in-time view of the limiter.
type Status struct {
	Available int
	Capacity  int
	UsagePct  float64
	Window    time.Duration
}

// Status reports current budget usage.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())

	s := Status{
		Available: l.capacity - len(l.stamps),
		Capacity:  l.capacity,
		Window:    l.window,
	}
	if s.Available < 0 {
		s.Available = 0
	}
	if l.capacity > 0 {
		s.UsagePct = float64(len(l.stamps)) / float64(l.capacity)
	}
	return s
}

// purgeLocked drops timestamps that have aged out of the window.
func (l *Limiter) purgeLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := l.stamps[:0]
	for _, t := range l.stamps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.stamps = keep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
