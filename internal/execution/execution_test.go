package execution

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
)

func testOrder(qty, limit, volume float64) Order {
	return Order{
		Market:       "poly:BTC-100K",
		Side:         book.SideYes,
		Kind:         Buy,
		Quantity:     qty,
		LimitPrice:   limit,
		MarketVolume: volume,
	}
}

func TestSimulatedBuySlipsAdverse(t *testing.T) {
	s := NewSimulated(zerolog.Nop())
	fill, err := s.AttemptFill(context.Background(), testOrder(10, 0.50, 10_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Price <= 0.50 {
		t.Fatalf("buy must pay up, got %.4f", fill.Price)
	}
	if fill.Slippage <= 0 {
		t.Fatalf("adverse slippage must be a positive cost, got %.4f", fill.Slippage)
	}
	if fill.Mode != ModeSimulated {
		t.Fatalf("mode = %s", fill.Mode)
	}
}

func TestSimulatedSellSlipsDown(t *testing.T) {
	s := NewSimulated(zerolog.Nop())
	order := testOrder(10, 0.50, 10_000)
	order.Kind = Sell
	fill, err := s.AttemptFill(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Price >= 0.50 {
		t.Fatalf("sell must give up price, got %.4f", fill.Price)
	}
	if fill.Slippage <= 0 {
		t.Fatalf("sell slippage is still a cost, got %.4f", fill.Slippage)
	}
}

func TestSimulatedSlippageScalesWithSize(t *testing.T) {
	s := NewSimulated(zerolog.Nop())
	small, err := s.AttemptFill(context.Background(), testOrder(10, 0.50, 100_000))
	if err != nil {
		t.Fatalf("small order: %v", err)
	}
	large, err := s.AttemptFill(context.Background(), testOrder(10_000, 0.50, 10_000))
	if err != nil {
		t.Fatalf("large order: %v", err)
	}
	if large.Price <= small.Price {
		t.Fatalf("large order should slip more: %.5f vs %.5f", large.Price, small.Price)
	}
	// 0.50 * 1.005 is the worst a thin book can charge.
	if math.Abs(large.Price-0.50*(1+maxSlippagePct)) > 1e-9 {
		t.Fatalf("thin-book price = %.5f", large.Price)
	}
}

func TestSimulatedClampsPrice(t *testing.T) {
	s := NewSimulated(zerolog.Nop())
	fill, err := s.AttemptFill(context.Background(), testOrder(1000, 0.988, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Price > 0.99 {
		t.Fatalf("price escaped clamp: %.4f", fill.Price)
	}
}

func TestSimulatedRejectsBadOrders(t *testing.T) {
	s := NewSimulated(zerolog.Nop())
	if _, err := s.AttemptFill(context.Background(), testOrder(0, 0.50, 100)); err == nil {
		t.Fatalf("expected rejection of zero quantity")
	}
	if _, err := s.AttemptFill(context.Background(), testOrder(10, 1.2, 100)); err == nil {
		t.Fatalf("expected rejection of out-of-range price")
	}
}

type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Transient() bool { return true }

type scriptedVenue struct {
	errs  []error
	calls int
}

func (v *scriptedVenue) Name() string { return "scripted" }

func (v *scriptedVenue) PlaceOrder(_ context.Context, order Order) (Fill, error) {
	v.calls++
	if v.calls <= len(v.errs) && v.errs[v.calls-1] != nil {
		return Fill{}, v.errs[v.calls-1]
	}
	return Fill{Order: order, Price: order.LimitPrice, Ts: time.Unix(1, 0)}, nil
}

func newTestForwarder(v Venue) *Forwarder {
	f := NewForwarder(v, zerolog.Nop())
	f.initialBackoff = time.Millisecond
	f.maxBackoff = 2 * time.Millisecond
	return f
}

func TestForwarderRetriesTransient(t *testing.T) {
	venue := &scriptedVenue{errs: []error{transientErr{"timeout"}, transientErr{"timeout"}}}
	f := newTestForwarder(venue)

	fill, err := f.AttemptFill(context.Background(), testOrder(10, 0.50, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if venue.calls != 3 {
		t.Fatalf("venue called %d times, want 3", venue.calls)
	}
	if fill.Mode != ModeLive {
		t.Fatalf("mode = %s", fill.Mode)
	}
}

func TestForwarderStopsAfterMaxAttempts(t *testing.T) {
	venue := &scriptedVenue{errs: []error{
		transientErr{"timeout"}, transientErr{"timeout"}, transientErr{"timeout"},
	}}
	f := newTestForwarder(venue)

	if _, err := f.AttemptFill(context.Background(), testOrder(10, 0.50, 100)); err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if venue.calls != 3 {
		t.Fatalf("venue called %d times, want 3", venue.calls)
	}
}

func TestForwarderDoesNotRetryPermanent(t *testing.T) {
	venue := &scriptedVenue{errs: []error{errors.New("rejected: insufficient funds")}}
	f := newTestForwarder(venue)

	if _, err := f.AttemptFill(context.Background(), testOrder(10, 0.50, 100)); err == nil {
		t.Fatalf("expected permanent error to surface")
	}
	if venue.calls != 1 {
		t.Fatalf("permanent errors must not be retried, calls = %d", venue.calls)
	}
}

func TestForwarderFlagsAmbiguousOutcome(t *testing.T) {
	venue := &scriptedVenue{errs: []error{ErrAmbiguous}}
	f := newTestForwarder(venue)

	fill, err := f.AttemptFill(context.Background(), testOrder(10, 0.50, 100))
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if !fill.NeedsReconciliation {
		t.Fatalf("ambiguous outcome must flag reconciliation")
	}
	if venue.calls != 1 {
		t.Fatalf("ambiguous outcomes must not be retried, calls = %d", venue.calls)
	}
}
