package composite

import (
	"math"
	"testing"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

func cryptoMarket() signal.Market {
	return signal.Market{ID: "poly:BTC-100K", Category: signal.CategoryCrypto, YesPrice: 0.5}
}

func score(t signal.ScoreType, v float64, d signal.Direction) signal.Score {
	return signal.Score{Market: "poly:BTC-100K", Type: t, Value: v, Direction: d}
}

func TestCombineBelowThresholdHoldsDespiteAgreement(t *testing.T) {
	// crypto weights 0.40/0.30/0.30: 80*0.4 + 50*0.3 + 40*0.3 = 59
	agg := NewAggregator(NewWeights(nil), 65, StrictMajority)
	c := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 80, signal.Bullish),
		score(signal.TypeSentiment, 50, signal.Neutral),
		score(signal.TypeSpeed, 40, signal.Bullish),
	)
	if math.Abs(c.Final-59) > 1e-9 {
		t.Fatalf("final = %.2f, want 59", c.Final)
	}
	if c.Recommendation != signal.Hold {
		t.Fatalf("recommendation = %s, want HOLD below threshold", c.Recommendation)
	}
	if c.Agreeing != 2 {
		t.Fatalf("agreeing = %d, want 2", c.Agreeing)
	}
}

func TestCombineHoldsWithoutMajorityEvenAboveThreshold(t *testing.T) {
	agg := NewAggregator(NewWeights(nil), 65, StrictMajority)
	c := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 90, signal.Bullish),
		score(signal.TypeSentiment, 80, signal.Bearish),
		score(signal.TypeSpeed, 85, signal.Neutral),
	)
	if c.Final < 65 {
		t.Fatalf("setup failed: final = %.2f", c.Final)
	}
	if c.Recommendation != signal.Hold {
		t.Fatalf("split directions must hold, got %s", c.Recommendation)
	}
	if c.Direction != signal.Neutral {
		t.Fatalf("no strict majority should resolve neutral, got %s", c.Direction)
	}
}

func TestCombineBuyYesAndBuyNo(t *testing.T) {
	agg := NewAggregator(NewWeights(nil), 65, StrictMajority)

	up := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 85, signal.Bullish),
		score(signal.TypeSentiment, 70, signal.Bullish),
		score(signal.TypeSpeed, 75, signal.Bullish),
	)
	if up.Recommendation != signal.BuyYes {
		t.Fatalf("recommendation = %s, want BUY_YES", up.Recommendation)
	}

	down := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 85, signal.Bearish),
		score(signal.TypeSentiment, 70, signal.Bearish),
		score(signal.TypeSpeed, 40, signal.Neutral),
	)
	if down.Final < 65 {
		t.Fatalf("setup failed: final = %.2f", down.Final)
	}
	if down.Recommendation != signal.BuyNo {
		t.Fatalf("recommendation = %s, want BUY_NO", down.Recommendation)
	}
}

func TestCombineSnapshotsWeights(t *testing.T) {
	weights := NewWeights(nil)
	agg := NewAggregator(weights, 65, StrictMajority)
	c := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 85, signal.Bullish),
		score(signal.TypeSentiment, 70, signal.Bullish),
		score(signal.TypeSpeed, 75, signal.Bullish),
	)

	if err := weights.Swap(signal.CategoryCrypto, Triple{TA: 0.50, Sentiment: 0.25, Speed: 0.25}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if c.TAWeight != 0.40 {
		t.Fatalf("past composite's weight snapshot mutated: %.2f", c.TAWeight)
	}
}

func TestUnanimousPolicy(t *testing.T) {
	agg := NewAggregator(NewWeights(nil), 65, Unanimous)
	c := agg.Combine(cryptoMarket(),
		score(signal.TypeTA, 85, signal.Bullish),
		score(signal.TypeSentiment, 70, signal.Bullish),
		score(signal.TypeSpeed, 75, signal.Neutral),
	)
	if c.Recommendation != signal.Hold {
		t.Fatalf("2-of-3 under unanimous policy must hold, got %s", c.Recommendation)
	}
}

func TestWeightsValidation(t *testing.T) {
	w := NewWeights(nil)
	if err := w.Swap(signal.CategorySports, Triple{TA: 0.80, Sentiment: 0.10, Speed: 0.10}); err == nil {
		t.Fatalf("expected rejection of weight above %.2f", MaxWeight)
	}
	if err := w.Swap(signal.CategorySports, Triple{TA: 0.50, Sentiment: 0.30, Speed: 0.30}); err == nil {
		t.Fatalf("expected rejection of triple summing to 1.1")
	}
	if got := w.Snapshot(signal.CategorySports); got != DefaultTriples()[signal.CategorySports] {
		t.Fatalf("failed swaps must leave the stored triple untouched")
	}
}

func TestSnapshotFallsBackForUnknownCategory(t *testing.T) {
	w := NewWeights(nil)
	triple := w.Snapshot(signal.Category("politics"))
	if triple.TA != 0.33 || triple.Sentiment != 0.33 || triple.Speed != 0.34 {
		t.Fatalf("unknown category triple = %+v, want equal-split fallback", triple)
	}
	if math.Abs(triple.Sum()-1) > 1e-9 {
		t.Fatalf("fallback triple sum = %.4f, want 1", triple.Sum())
	}
}
