package composite

import (
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// AgreementPolicy decides how many component directions must share the
// consensus before a trade is allowed. The strict-majority default treats
// any split with fewer than two agreeing directions as Hold.
type AgreementPolicy int

const (
	// StrictMajority requires at least two of the three directions to agree.
	StrictMajority AgreementPolicy = iota
	// Unanimous requires all three directions to agree.
	Unanimous
)

// Aggregator combines TA, sentiment, and speed scores with the live
// category weights into a trade recommendation.
type Aggregator struct {
	weights   *Weights
	threshold float64
	policy    AgreementPolicy
}

// NewAggregator builds an aggregator. A non-positive threshold defaults
// to 65.
func NewAggregator(weights *Weights, threshold float64, policy AgreementPolicy) *Aggregator {
	if threshold <= 0 {
		threshold = 65
	}
	return &Aggregator{weights: weights, threshold: threshold, policy: policy}
}

// Threshold returns the minimum final score required to trade.
func (a *Aggregator) Threshold() float64 { return a.threshold }

// Combine computes the composite for one market and evaluation cycle. The
// weight triple is snapshotted here so later agent swaps never alter this
// decision's audit record.
func (a *Aggregator) Combine(market signal.Market, ta, sentiment, speed signal.Score) signal.Composite {
	w := a.weights.Snapshot(market.Category)

	final := ta.Value*w.TA + sentiment.Value*w.Sentiment + speed.Value*w.Speed
	final = indicator.Clamp(final, 0, 100)

	direction, agreeing := consensus(ta.Direction, sentiment.Direction, speed.Direction)

	required := 2
	if a.policy == Unanimous {
		required = 3
	}
	recommendation := signal.Hold
	if final >= a.threshold && agreeing >= required && direction != signal.Neutral {
		if direction == signal.Bullish {
			recommendation = signal.BuyYes
		} else {
			recommendation = signal.BuyNo
		}
	}

	return signal.Composite{
		Market:          market.ID,
		Category:        market.Category,
		TA:              ta,
		Sentiment:       sentiment,
		Speed:           speed,
		TAWeight:        w.TA,
		SentimentWeight: w.Sentiment,
		SpeedWeight:     w.Speed,
		Final:           final,
		Direction:       direction,
		Agreeing:        agreeing,
		Recommendation:  recommendation,
		Ts:              time.Now().UTC(),
	}
}

// consensus counts directional agreement. A bullish/bearish/neutral split
// has no strict majority and resolves to neutral.
func consensus(dirs ...signal.Direction) (signal.Direction, int) {
	bullish, bearish := 0, 0
	for _, d := range dirs {
		switch d {
		case signal.Bullish:
			bullish++
		case signal.Bearish:
			bearish++
		}
	}
	switch {
	case bullish >= 2:
		return signal.Bullish, bullish
	case bearish >= 2:
		return signal.Bearish, bearish
	default:
		return signal.Neutral, 1
	}
}
