// Package execution handles order placement. Simulated and live
// executors sit behind one interface so the engine never branches
// on mode.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
)

// Mode distinguishes paper fills from venue submissions.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// Kind enumerates order intents.
type Kind string

const (
	// Buy opens or adds to a leg position.
	Buy Kind = "BUY"
	// Sell exits a leg position.
	Sell Kind = "SELL"
)

// Order is a placement request against one market leg.
type Order struct {
	Market       string
	Side         book.Side
	Kind         Kind
	Quantity     float64
	LimitPrice   float64 // leg quote at decision time
	MarketVolume float64 // recent traded volume, drives simulated slippage
}

// Notional is the order's size at the decision-time quote.
func (o Order) Notional() float64 { return o.Quantity * o.LimitPrice }

// Fill reports the outcome of an attempted placement.
type Fill struct {
	Order    Order
	Price    float64 // leg price actually obtained
	Slippage float64 // signed cost versus the limit, in dollars
	Mode     Mode
	// NeedsReconciliation marks fills whose venue outcome is unknown.
	// The engine books nothing and an operator must reconcile by hand.
	NeedsReconciliation bool
	Ts                  time.Time
}

// ErrAmbiguous signals the venue may or may not have filled the order.
var ErrAmbiguous = errors.New("order outcome unknown")

// Transient marks venue errors that are safe to retry.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err may be retried without double-fill risk.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// Executor attempts fills for sized orders.
type Executor interface {
	AttemptFill(ctx context.Context, order Order) (Fill, error)
	Mode() Mode
}
