package technical

import (
	"strings"
	"testing"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

func TestAnalyzeEmptyCandlesIsNeutral(t *testing.T) {
	a := NewAnalyzer()
	score := a.Analyze("kalshi:KXBTC-26DEC", nil, signal.OrderbookSnapshot{})
	if score.Value != 50 || score.Direction != signal.Neutral {
		t.Fatalf("empty input → %.1f/%s, want 50/neutral", score.Value, score.Direction)
	}
}

func TestAnalyzeBreakoutScenario(t *testing.T) {
	a := NewAnalyzer()
	market := "kalshi:KXBTC-26DEC"

	candles := consolidationRun(5)
	neutral := a.Analyze(market, candles, signal.OrderbookSnapshot{})
	if neutral.Direction != signal.Neutral {
		t.Fatalf("direction during consolidation = %s, want neutral", neutral.Direction)
	}
	if a.StateFor(market) != ConsolidationDetected {
		t.Fatalf("state = %s, want CONSOLIDATION_DETECTED", a.StateFor(market))
	}

	// 2% above the high on double the average volume
	candles = append(candles, candle(5, 0.515, 200))
	score := a.Analyze(market, candles, signal.OrderbookSnapshot{YesBidVolume: 400, NoBidVolume: 100})
	if a.StateFor(market) != FirstBreakout {
		t.Fatalf("state = %s, want FIRST_BREAKOUT", a.StateFor(market))
	}
	if score.Direction != signal.Bullish {
		t.Fatalf("direction = %s, want bullish", score.Direction)
	}
	// base(6)=13, +15 volume, +10 imbalance, plus indicator agreement
	if score.Value < 13+15+10 {
		t.Fatalf("score %.1f missing volume/imbalance bonuses", score.Value)
	}
	if !strings.Contains(score.Evidence, "vol_ok=true") {
		t.Fatalf("evidence should record volume confirmation: %s", score.Evidence)
	}

	// retest then second breakout on elevated volume adds the +25 bonus
	candles = append(candles, candle(6, 0.504, 90), candle(7, 0.517, 400))
	second := a.Analyze(market, candles, signal.OrderbookSnapshot{YesBidVolume: 400, NoBidVolume: 100})
	if a.StateFor(market) != SecondBreakoutSignal {
		t.Fatalf("state = %s, want SECOND_BREAKOUT_SIGNAL", a.StateFor(market))
	}
	if second.Value < score.Value {
		t.Fatalf("double-breakout score %.1f should exceed first-breakout score %.1f", second.Value, score.Value)
	}
}

func TestAnalyzeSkipsWindowOverlapWithoutMutation(t *testing.T) {
	a := NewAnalyzer()
	market := "poly:WEATHER-NYC"
	candles := consolidationRun(5)
	a.Analyze(market, candles, signal.OrderbookSnapshot{})
	state := a.StateFor(market)

	// re-sending the same window must be a no-op for the machine
	a.Analyze(market, candles, signal.OrderbookSnapshot{})
	if a.StateFor(market) != state {
		t.Fatalf("state changed on duplicate window: %s → %s", state, a.StateFor(market))
	}
}

func TestForgetDropsMachine(t *testing.T) {
	a := NewAnalyzer()
	market := "kalshi:KXETH-26JUN"
	candles := append(consolidationRun(5), candle(5, 0.515, 200))
	a.Analyze(market, candles, signal.OrderbookSnapshot{})
	if a.StateFor(market) == Scanning {
		t.Fatalf("setup failed, expected a non-scanning state")
	}
	a.Forget(market)
	if a.StateFor(market) != Scanning {
		t.Fatalf("forgotten market should restart in SCANNING")
	}
}
