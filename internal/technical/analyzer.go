package technical

import (
	"fmt"
	"sync"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const (
	smaShortPeriod = 10
	emaLongPeriod  = 60

	volumeBonus         = 15.0
	imbalanceBonus      = 10.0
	doubleBreakoutBonus = 25.0
	indicatorBonus      = 10.0
	imbalanceDeadband   = 0.05
)

// Analyzer owns one breakout machine per market, keyed by market ID. A
// machine is looked up and mutated only inside its market's evaluation
// stream; the table lock covers lookup and creation only.
type Analyzer struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

// NewAnalyzer returns an empty per-market machine table.
func NewAnalyzer() *Analyzer {
	return &Analyzer{machines: make(map[string]*Machine)}
}

func (a *Analyzer) machine(marketID string) *Machine {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.machines[marketID]
	if m == nil {
		m = NewMachine()
		a.machines[marketID] = m
	}
	return m
}

// StateFor reports the current breakout state for a market.
func (a *Analyzer) StateFor(marketID string) State {
	return a.machine(marketID).State()
}

// Forget drops the state machine for a market, e.g. after resolution or
// when the market leaves the monitored set.
func (a *Analyzer) Forget(marketID string) {
	a.mu.Lock()
	delete(a.machines, marketID)
	a.mu.Unlock()
}

// Analyze feeds any unseen candles into the market's machine in timestamp
// order and assembles the technical score. Candles at or before the last
// accepted timestamp are duplicates from window overlap and are skipped
// without touching state.
func (a *Analyzer) Analyze(marketID string, candles []signal.Candle, book signal.OrderbookSnapshot) signal.Score {
	now := time.Now().UTC()
	if len(candles) == 0 {
		return signal.Score{
			Market:    marketID,
			Type:      signal.TypeTA,
			Value:     50,
			Direction: signal.Neutral,
			Evidence:  "no candles",
			Ts:        now,
		}
	}

	m := a.machine(marketID)
	for i, c := range candles {
		if !m.lastTs.IsZero() && !c.Ts.After(m.lastTs) {
			continue
		}
		if m.State() == Scanning {
			m.ObserveConsolidation(candles[:i+1])
		}
		_ = m.Update(c)
	}

	closes := indicator.Closes(candles)
	price := closes[len(closes)-1]
	sma := indicator.SMA(closes, smaShortPeriod)
	ema := indicator.EMA(closes, emaLongPeriod)
	vwap := indicator.VWAP(candles)
	imbalance := indicator.OrderbookImbalance(book.YesBidVolume, book.NoBidVolume)

	direction := m.Direction()
	score := historyBase(len(candles))

	if direction != signal.Neutral {
		if m.VolumeConfirmed() {
			score += volumeBonus
		}
		if agreesWithImbalance(direction, imbalance) {
			score += imbalanceBonus
		}
		if m.State() == SecondBreakoutSignal {
			score += doubleBreakoutBonus
		}
		score += indicatorBonus * float64(concurringIndicators(direction, price, sma, ema, vwap))
	}
	score = indicator.Clamp(score, 0, 100)

	return signal.Score{
		Market:     marketID,
		Type:       signal.TypeTA,
		Value:      score,
		Direction:  direction,
		Confidence: score,
		Evidence: fmt.Sprintf("state=%s vol_ok=%t obi=%.3f sma=%.4f ema=%.4f vwap=%.4f candles=%d",
			m.State(), m.VolumeConfirmed(), imbalance, sma, ema, vwap, len(candles)),
		Ts: now,
	}
}

// historyBase rewards analysis depth: more candles behind a pattern mean a
// more trustworthy read. Ramps from 10 toward 40 over 60 candles.
func historyBase(depth int) float64 {
	if depth > 60 {
		depth = 60
	}
	return 10 + float64(depth)*0.5
}

func agreesWithImbalance(dir signal.Direction, imbalance float64) bool {
	switch dir {
	case signal.Bullish:
		return imbalance > imbalanceDeadband
	case signal.Bearish:
		return imbalance < -imbalanceDeadband
	}
	return false
}

// concurringIndicators counts how many of the short SMA, long EMA trend,
// and VWAP deviation point in the breakout direction.
func concurringIndicators(dir signal.Direction, price, sma, ema, vwap float64) int {
	votes := 0
	bullish := dir == signal.Bullish
	if sma > 0 && ((bullish && price > sma) || (!bullish && price < sma)) {
		votes++
	}
	if sma > 0 && ema > 0 && ((bullish && sma > ema) || (!bullish && sma < ema)) {
		votes++
	}
	if vwap > 0 && ((bullish && price > vwap) || (!bullish && price < vwap)) {
		votes++
	}
	return votes
}
