package breaker

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCheckAllowsQuietMarket(t *testing.T) {
	b := New(Config{})
	r := b.Check("BTCUSDT", 50000, 10000, t0)
	if !r.Allowed {
		t.Fatalf("blocked: %s", r.Reason)
	}
	r = b.Check("BTCUSDT", 50100, 10050, t0.Add(5*time.Minute))
	if !r.Allowed {
		t.Fatalf("blocked on benign drift: %s", r.Reason)
	}
}

func TestAssetDropTrips(t *testing.T) {
	b := New(Config{})
	b.Check("BTCUSDT", 100, 10000, t0)

	r := b.Check("BTCUSDT", 84, 10000, t0.Add(10*time.Minute))
	if r.Allowed {
		t.Fatal("16% drop inside the window not blocked")
	}
	if !strings.Contains(r.Reason, "dropped") {
		t.Errorf("reason = %q, want asset drop", r.Reason)
	}
	wantUntil := t0.Add(10 * time.Minute).Add(time.Hour)
	if !r.TrippedUntil.Equal(wantUntil) {
		t.Errorf("trippedUntil = %v, want %v", r.TrippedUntil, wantUntil)
	}

	// trip holds even after the price recovers
	r = b.Check("BTCUSDT", 100, 10000, t0.Add(11*time.Minute))
	if r.Allowed {
		t.Fatal("active trip ignored")
	}
	if !strings.Contains(r.Reason, "circuit breaker active") {
		t.Errorf("reason = %q, want active-trip message", r.Reason)
	}

	// other symbols keep trading
	if r := b.Check("ETHUSDT", 3000, 10000, t0.Add(11*time.Minute)); !r.Allowed {
		t.Errorf("asset trip leaked to another symbol: %s", r.Reason)
	}

	// after expiry the stale high has left the window too
	if r := b.Check("BTCUSDT", 84, 10000, t0.Add(71*time.Minute)); !r.Allowed {
		t.Errorf("still blocked after trip expiry: %s", r.Reason)
	}
}

func TestFlashCrashTrips(t *testing.T) {
	t.Run("down move", func(t *testing.T) {
		b := New(Config{})
		b.Check("BTCUSDT", 100, 10000, t0)
		r := b.Check("BTCUSDT", 94, 10000, t0.Add(30*time.Second))
		if r.Allowed {
			t.Fatal("6% move in 30s not blocked")
		}
		if !strings.Contains(r.Reason, "flash crash") {
			t.Errorf("reason = %q, want flash crash", r.Reason)
		}
		wantUntil := t0.Add(30 * time.Second).Add(15 * time.Minute)
		if !r.TrippedUntil.Equal(wantUntil) {
			t.Errorf("trippedUntil = %v, want %v", r.TrippedUntil, wantUntil)
		}
	})

	t.Run("up move also trips", func(t *testing.T) {
		b := New(Config{})
		b.Check("BTCUSDT", 100, 10000, t0)
		r := b.Check("BTCUSDT", 106, 10000, t0.Add(30*time.Second))
		if r.Allowed {
			t.Fatal("upward spike not blocked")
		}
		if !strings.Contains(r.Reason, "flash crash") {
			t.Errorf("reason = %q, want flash crash", r.Reason)
		}
	})

	t.Run("slow move passes", func(t *testing.T) {
		b := New(Config{})
		b.Check("BTCUSDT", 100, 10000, t0)
		// same 6% but the reference tick has left the 60s window
		r := b.Check("BTCUSDT", 94, 10000, t0.Add(2*time.Minute))
		if !r.Allowed {
			t.Errorf("gradual move blocked: %s", r.Reason)
		}
	})
}

func TestPortfolioKillTrips(t *testing.T) {
	b := New(Config{})
	b.Check("BTCUSDT", 100, 10000, t0)

	r := b.Check("BTCUSDT", 100, 8900, t0.Add(5*time.Minute))
	if r.Allowed {
		t.Fatal("11% intraday drawdown not blocked")
	}
	if !strings.Contains(r.Reason, "portfolio kill") {
		t.Errorf("reason = %q, want portfolio kill", r.Reason)
	}

	// portfolio trips block every symbol
	if r := b.Check("ETHUSDT", 3000, 8900, t0.Add(6*time.Minute)); r.Allowed {
		t.Error("portfolio trip did not block other symbols")
	}

	// next UTC day: trip expired and the anchor re-bases
	if r := b.Check("BTCUSDT", 100, 8900, t0.Add(25*time.Hour)); !r.Allowed {
		t.Errorf("blocked after day roll: %s", r.Reason)
	}
}

func TestConsecutiveLossTrips(t *testing.T) {
	b := New(Config{})

	if trip := b.RecordTradeResult(false, t0); trip != nil {
		t.Fatal("tripped on first loss")
	}
	if trip := b.RecordTradeResult(false, t0); trip != nil {
		t.Fatal("tripped on second loss")
	}
	trip := b.RecordTradeResult(false, t0)
	if trip == nil {
		t.Fatal("third consecutive loss did not trip")
	}
	if trip.Type != TripConsecutiveLosses {
		t.Errorf("type = %s, want %s", trip.Type, TripConsecutiveLosses)
	}
	if !trip.Until.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("until = %v, want 30m pause", trip.Until)
	}

	if r := b.Check("BTCUSDT", 100, 10000, t0.Add(time.Minute)); r.Allowed {
		t.Error("loss-streak trip did not block trading")
	}

	// streak keeps counting until a win clears it
	if trip := b.RecordTradeResult(false, t0.Add(time.Minute)); trip == nil {
		t.Error("fourth loss did not extend the pause")
	}
	b.RecordTradeResult(true, t0.Add(2*time.Minute))
	if got := b.Status(t0.Add(2 * time.Minute)).ConsecutiveLosses; got != 0 {
		t.Errorf("consecutiveLosses = %d, want 0 after win", got)
	}
}

func TestWinResetsStreakBeforeLimit(t *testing.T) {
	b := New(Config{})
	b.RecordTradeResult(false, t0)
	b.RecordTradeResult(false, t0)
	b.RecordTradeResult(true, t0)
	if trip := b.RecordTradeResult(false, t0); trip != nil {
		t.Error("streak survived a winning trade")
	}
}

func TestHistoryRetention(t *testing.T) {
	b := New(Config{})
	b.Check("BTCUSDT", 100, 10000, t0)
	b.Check("BTCUSDT", 101, 10000, t0.Add(3*time.Hour))

	s := b.Status(t0.Add(3 * time.Hour))
	if got := s.HistorySizes["BTCUSDT"]; got != 1 {
		t.Errorf("history size = %d, want 1 after purge", got)
	}
}

func TestStatusReportsActiveTrips(t *testing.T) {
	b := New(Config{})
	b.Check("BTCUSDT", 100, 10000, t0)
	b.Check("BTCUSDT", 80, 10000, t0.Add(time.Minute))

	s := b.Status(t0.Add(2 * time.Minute))
	if len(s.ActiveTrips) != 1 {
		t.Fatalf("activeTrips = %d, want 1", len(s.ActiveTrips))
	}
	if s.ActiveTrips[0].Type != TripAssetDrop {
		t.Errorf("trip type = %s, want %s", s.ActiveTrips[0].Type, TripAssetDrop)
	}

	// expired trips drop out of the view
	s = b.Status(t0.Add(2 * time.Hour))
	if len(s.ActiveTrips) != 0 {
		t.Errorf("activeTrips = %d, want 0 after expiry", len(s.ActiveTrips))
	}
}
