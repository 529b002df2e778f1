package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTime struct {
	t time.Time
}

func (f *fakeTime) Now() time.Time {
	return f.t
}

func (f *fakeTime) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// newTestLimiter wires a fake clock whose sleep just advances time.
func newTestLimiter(maxRequests int, window time.Duration, margin float64) (*Limiter, *fakeTime) {
	l := New(maxRequests, window, margin)
	ft := &fakeTime{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l.now = ft.Now
	l.sleep = func(_ context.Context, d time.Duration) error {
		ft.advance(d)
		return nil
	}
	return l, ft
}

func TestNewAppliesSafetyMargin(t *testing.T) {
	tests := []struct {
		name         string
		maxRequests  int
		window       time.Duration
		margin       float64
		wantCapacity int
	}{
		{"binance budget", 900, time.Minute, 0.90, 810},
		{"defaults", 0, 0, 0, 810},
		{"full budget", 900, time.Minute, 1.0, 900},
		{"tiny budget floors at one", 1, time.Minute, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.maxRequests, tt.window, tt.margin)
			if got := l.Status().Capacity; got != tt.wantCapacity {
				t.Errorf("capacity = %d, want %d", got, tt.wantCapacity)
			}
		})
	}
}

func TestAcquireUnderBudget(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute, 1.0)

	waited, err := l.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if waited != 0 {
		t.Errorf("waited = %v, want 0 under budget", waited)
	}
	if got := l.Available(); got != 9 {
		t.Errorf("available = %d, want 9", got)
	}
	if got := l.UsagePct(); got != 0.1 {
		t.Errorf("usage = %.2f, want 0.10", got)
	}
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	l, _ := newTestLimiter(2, time.Second, 1.0)
	ctx := context.Background()

	if _, err := l.Acquire(ctx, 2); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	waited, err := l.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// oldest slot ages out after the window plus the skew pad
	if want := time.Second + skewPad; waited != want {
		t.Errorf("waited = %v, want %v", waited, want)
	}
	if got := l.Available(); got != 1 {
		t.Errorf("available = %d, want 1 after the old slots aged out", got)
	}
}

func TestAcquireWeighted(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute, 1.0)

	if _, err := l.Acquire(context.Background(), 3); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := l.Available(); got != 0 {
		t.Errorf("available = %d, want 0", got)
	}
	if got := l.UsagePct(); got != 1.0 {
		t.Errorf("usage = %.2f, want 1.0", got)
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute, 1.0)
	l.sleep = sleepContext // real ctx-aware wait

	if _, err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Acquire(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWindowSlides(t *testing.T) {
	l, ft := newTestLimiter(5, time.Minute, 1.0)

	if _, err := l.Acquire(context.Background(), 5); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := l.Available(); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}

	ft.advance(61 * time.Second)
	if got := l.Available(); got != 5 {
		t.Errorf("available = %d, want 5 after the window slid", got)
	}
}
