// Package exec implements the order execution state machine.
package exec

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/models"
)

// OrderState tracks an order through its lifecycle.
type OrderState string

const (
	StatePending         OrderState = "pending"          // built, venue not yet asked
	StateSubmitted       OrderState = "submitted"        // resting at the venue
	StatePartiallyFilled OrderState = "partially_filled" // some quantity executed
	StateFilled          OrderState = "filled"           // fully executed
	StateCancelled       OrderState = "cancelled"        // cancelled before completion
	StateOrphaned        OrderState = "orphaned"         // lost; needs external reconciliation
	StateError           OrderState = "error"            // venue rejected or submission failed
)

// validTransitions is the full set of permitted state changes. A live
// submission response maps straight from Pending to whatever the venue
// reports, so Pending fans out to every working and terminal state.
var validTransitions = map[OrderState][]OrderState{
	StatePending:         {StateSubmitted, StatePartiallyFilled, StateFilled, StateOrphaned, StateError},
	StateSubmitted:       {StatePartiallyFilled, StateFilled, StateCancelled, StateOrphaned, StateError},
	StatePartiallyFilled: {StateFilled, StateCancelled, StateOrphaned},
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateOrphaned, StateError:
		return true
	}
	return false
}

// transition validates a state change.
func transition(from, to OrderState) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("order transition %s -> %s: %w", from, to, apperrors.ErrInvalidOrderState)
}

// ManagedOrder is one tracked order. ExchangeOrderID is empty until the
// venue acknowledges. FilledQty and AvgFillPrice carry meaning from
// PartiallyFilled onward. LastError is set only in the Error and Orphaned
// states.
type ManagedOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            models.Side
	Type            models.OrderType
	Qty             float64
	Price           float64
	FilledQty       float64
	AvgFillPrice    float64
	Strategy        models.StrategyID
	State           OrderState
	SubmittedAt     time.Time
	UpdatedAt       time.Time
	LastError       string

	// Entry context so a fill that lands after submission can still open
	// the ledger position with its protective levels. Exit marks orders
	// that reduce an existing position.
	StopPrice  float64
	TakeProfit float64
	Exit       bool
}

// RemainingQty returns the unfilled quantity.
func (o *ManagedOrder) RemainingQty() float64 {
	r := o.Qty - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// IsTerminal reports whether the order can change no further.
func (o *ManagedOrder) IsTerminal() bool {
	return o.State.IsTerminal()
}

// Snapshot returns a value copy for callers outside the executor's lock.
func (o *ManagedOrder) Snapshot() ManagedOrder {
	return *o
}

var symbolSeparators = strings.NewReplacer("/", "", "-", "", "_", "")

// ClientOrderID mints the idempotency key attached to every order:
// HOT_{strategy:6}_{symbol}_{UTC yyyymmddHHMM}_{8 hex}. The format is
// fixed so replays are idempotent and sessions can be grepped by hand.
func ClientOrderID(strategy models.StrategyID, symbol string, now time.Time, entropy [4]byte) string {
	s := string(strategy)
	if len(s) > 6 {
		s = s[:6]
	}
	return fmt.Sprintf("HOT_%s_%s_%s_%s",
		s,
		symbolSeparators.Replace(symbol),
		now.UTC().Format("200601021504"),
		hex.EncodeToString(entropy[:]))
}

// newEntropy returns four random bytes for client order IDs.
func newEntropy() [4]byte {
	var e [4]byte
	u := uuid.New()
	copy(e[:], u[:4])
	return e
}
