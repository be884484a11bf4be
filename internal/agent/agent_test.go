package agent

import (
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// closeTrade books and immediately closes a winning YES position whose
// entry signals are chosen per call.
func closeTrade(t *testing.T, b *book.Book, i int, sig book.EntrySignals) {
	t.Helper()
	market := fmt.Sprintf("m%d", i)
	_, err := b.Open(book.OpenRequest{
		Market:    market,
		Category:  signal.CategoryCrypto,
		Side:      book.SideYes,
		Quantity:  1,
		FillPrice: 0.50,
		Signals:   sig,
	})
	if err != nil {
		t.Fatalf("open %s: %v", market, err)
	}
	if _, err := b.Close(market, 0.60, book.ReasonTakeProfit); err != nil {
		t.Fatalf("close %s: %v", market, err)
	}
}

// direction returns bullish for the first n of 20 trades and neutral after.
func direction(i, n int) signal.Direction {
	if i < n {
		return signal.Bullish
	}
	return signal.Neutral
}

func TestReviewWaitsForFullWindow(t *testing.T) {
	b := book.New(10_000)
	w := composite.NewWeights(nil)
	a := New(b, w, zerolog.Nop())

	for i := 0; i < WindowSize-1; i++ {
		closeTrade(t, b, i, book.EntrySignals{TA: signal.Bullish})
	}
	if entries := a.Review(signal.CategoryCrypto); len(entries) != 0 {
		t.Fatalf("review fired on partial window: %d entries", len(entries))
	}
	if got := w.Snapshot(signal.CategoryCrypto); got != composite.DefaultTriples()[signal.CategoryCrypto] {
		t.Fatalf("weights moved without a full window: %+v", got)
	}
}

func TestReviewPromotesAccurateEngine(t *testing.T) {
	b := book.New(10_000)
	w := composite.NewWeights(nil)
	a := New(b, w, zerolog.Nop())

	// All trades win on the YES side, so bullish is vindicated each
	// time. TA calls 14 of 20 (70%), sentiment 10 (50%), speed 6 (30%).
	for i := 0; i < WindowSize; i++ {
		closeTrade(t, b, i, book.EntrySignals{
			TA:        direction(i, 14),
			Sentiment: direction(i, 10),
			Speed:     direction(i, 6),
		})
	}

	entries := a.Review(signal.CategoryCrypto)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if !e.Adjusted {
		t.Fatalf("expected an adjustment")
	}
	if math.Abs(e.Accuracy[signal.TypeTA]-0.70) > 1e-9 {
		t.Fatalf("ta accuracy = %.2f", e.Accuracy[signal.TypeTA])
	}

	got := w.Snapshot(signal.CategoryCrypto)
	want := composite.Triple{TA: 0.45, Sentiment: 0.30, Speed: 0.25}
	if math.Abs(got.TA-want.TA) > 1e-9 ||
		math.Abs(got.Sentiment-want.Sentiment) > 1e-9 ||
		math.Abs(got.Speed-want.Speed) > 1e-9 {
		t.Fatalf("weights = %+v, want %+v", got, want)
	}
}

func TestReviewLogsEvenWithoutChange(t *testing.T) {
	b := book.New(10_000)
	w := composite.NewWeights(nil)
	a := New(b, w, zerolog.Nop())

	// Every engine lands at exactly 50%, inside both tolerances.
	for i := 0; i < WindowSize; i++ {
		closeTrade(t, b, i, book.EntrySignals{
			TA:        direction(i, 10),
			Sentiment: direction(i, 10),
			Speed:     direction(i, 10),
		})
	}

	entries := a.Review(signal.CategoryCrypto)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Adjusted {
		t.Fatalf("no engine crossed a tolerance, weights must hold")
	}
	if got := w.Snapshot(signal.CategoryCrypto); got != composite.DefaultTriples()[signal.CategoryCrypto] {
		t.Fatalf("weights moved: %+v", got)
	}
}

func TestReviewDoesNotReprocessTrades(t *testing.T) {
	b := book.New(10_000)
	w := composite.NewWeights(nil)
	a := New(b, w, zerolog.Nop())

	for i := 0; i < WindowSize; i++ {
		closeTrade(t, b, i, book.EntrySignals{TA: direction(i, 14)})
	}
	if entries := a.Review(signal.CategoryCrypto); len(entries) != 1 {
		t.Fatalf("first review entries = %d", len(entries))
	}
	// Same trades again: nothing new to review.
	if entries := a.Review(signal.CategoryCrypto); len(entries) != 0 {
		t.Fatalf("trades were reviewed twice")
	}
}

func TestClampedNormalizeBounds(t *testing.T) {
	out := clampedNormalize(composite.Triple{TA: 0.75, Sentiment: 0.05, Speed: 0.30})
	if err := out.Validate(); err != nil {
		t.Fatalf("normalized triple invalid: %v", err)
	}
	if out.TA > composite.MaxWeight {
		t.Fatalf("ta escaped clamp: %.3f", out.TA)
	}
}

func TestProvenDirection(t *testing.T) {
	cases := []struct {
		side book.Side
		pnl  float64
		want signal.Direction
	}{
		{book.SideYes, 1, signal.Bullish},
		{book.SideYes, -1, signal.Bearish},
		{book.SideNo, 1, signal.Bearish},
		{book.SideNo, -1, signal.Bullish},
	}
	for _, tc := range cases {
		trade := book.Trade{Side: tc.side, PnL: tc.pnl}
		if got := provenDirection(trade); got != tc.want {
			t.Fatalf("provenDirection(%s, %.0f) = %s, want %s", tc.side, tc.pnl, got, tc.want)
		}
	}
}
