// Package technical implements the double-breakout state machine and the
// technical analysis scorer for prediction market candle data.
package technical

import (
	"errors"
	"fmt"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// State enumerates the phases of the double-breakout pattern detector.
type State string

const (
	Scanning              State = "SCANNING"
	ConsolidationDetected State = "CONSOLIDATION_DETECTED"
	FirstBreakout         State = "FIRST_BREAKOUT"
	Retest                State = "RETEST"
	SecondBreakoutSignal  State = "SECOND_BREAKOUT_SIGNAL"
)

// ErrOutOfOrder is returned for candles at or before the last accepted
// timestamp. The machine state is untouched in that case.
var ErrOutOfOrder = errors.New("candle timestamp not after last accepted candle")

const (
	consolidationMinCandles = 5
	consolidationMaxRange   = 0.03  // window range over mid price
	breakoutMinPct          = 0.015 // 1.5% beyond the consolidation bound
	retestTolerancePct      = 0.01  // within 1% of the breakout level
	timeoutCandles          = 50
	signalHoldCandles       = 3 // linger in the signal state, then rescan
	volumeLookback          = 20
)

// Machine tracks the double-breakout pattern for a single market. One
// instance per market, owned exclusively by that market's evaluation
// stream; it must never be shared across markets.
type Machine struct {
	state             State
	direction         signal.Direction
	consolidationHigh float64
	consolidationLow  float64
	breakoutPrice     float64
	candlesInState    int
	lastTs            time.Time
	volumes           []float64 // trailing window for the volume baseline
	volumeConfirmed   bool      // breakout candle's volume beat the baseline
}

// NewMachine returns a machine in the Scanning state.
func NewMachine() *Machine {
	return &Machine{state: Scanning, direction: signal.Neutral}
}

// State returns the current machine state.
func (m *Machine) State() State { return m.state }

// Direction returns the breakout direction. Neutral unless the machine is
// in FirstBreakout, Retest, or SecondBreakoutSignal.
func (m *Machine) Direction() signal.Direction {
	switch m.state {
	case FirstBreakout, Retest, SecondBreakoutSignal:
		return m.direction
	default:
		return signal.Neutral
	}
}

// VolumeConfirmed reports whether the most recent breakout transition was
// carried by above-baseline volume.
func (m *Machine) VolumeConfirmed() bool { return m.volumeConfirmed }

// BreakoutLevel returns the consolidation bound the current breakout
// crossed, or 0 when no breakout is in play.
func (m *Machine) BreakoutLevel() float64 {
	switch m.direction {
	case signal.Bullish:
		return m.consolidationHigh
	case signal.Bearish:
		return m.consolidationLow
	}
	return 0
}

func (m *Machine) volumeBaseline() float64 {
	if len(m.volumes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.volumes {
		sum += v
	}
	return sum / float64(len(m.volumes))
}

// Update consumes one candle in strict timestamp order. Duplicate or
// regressive timestamps are rejected without mutating state.
func (m *Machine) Update(c signal.Candle) error {
	if !m.lastTs.IsZero() && !c.Ts.After(m.lastTs) {
		return fmt.Errorf("%w: %s vs %s", ErrOutOfOrder, c.Ts.Format(time.RFC3339), m.lastTs.Format(time.RFC3339))
	}
	m.lastTs = c.Ts
	m.candlesInState++
	avgVolume := m.volumeBaseline()
	m.volumes = append(m.volumes, c.Volume)
	if len(m.volumes) > volumeLookback {
		m.volumes = m.volumes[1:]
	}

	if m.candlesInState > timeoutCandles && m.state != Scanning {
		m.reset()
		return nil
	}

	switch m.state {
	case Scanning, ConsolidationDetected:
		m.updateConsolidation(c, avgVolume)
	case FirstBreakout:
		m.updateFirstBreakout(c)
	case Retest:
		m.updateRetest(c, avgVolume)
	case SecondBreakoutSignal:
		if m.candlesInState > signalHoldCandles {
			m.reset()
		}
	}
	return nil
}

func (m *Machine) updateConsolidation(c signal.Candle, avgVolume float64) {
	if m.state != ConsolidationDetected {
		return
	}
	switch {
	case c.Close > m.consolidationHigh*(1+breakoutMinPct):
		m.transition(FirstBreakout)
		m.direction = signal.Bullish
		m.breakoutPrice = c.Close
		m.volumeConfirmed = avgVolume > 0 && c.Volume > avgVolume
	case c.Close < m.consolidationLow*(1-breakoutMinPct):
		m.transition(FirstBreakout)
		m.direction = signal.Bearish
		m.breakoutPrice = c.Close
		m.volumeConfirmed = avgVolume > 0 && c.Volume > avgVolume
	}
}

func (m *Machine) updateFirstBreakout(c signal.Candle) {
	level := m.BreakoutLevel()
	if level <= 0 {
		m.reset()
		return
	}
	distance := c.Close - level
	if distance < 0 {
		distance = -distance
	}
	if distance/level <= retestTolerancePct {
		m.transition(Retest)
		return
	}
	if m.oppositeBreakout(c) {
		m.reset()
	}
}

func (m *Machine) updateRetest(c signal.Candle, avgVolume float64) {
	confirmed := false
	switch m.direction {
	case signal.Bullish:
		confirmed = c.Close > m.consolidationHigh*(1+breakoutMinPct)
	case signal.Bearish:
		confirmed = c.Close < m.consolidationLow*(1-breakoutMinPct)
	}
	if confirmed {
		if avgVolume > 0 && c.Volume > avgVolume {
			m.transition(SecondBreakoutSignal)
			m.volumeConfirmed = true
			return
		}
		// Break without volume backing is not a second-breakout signal;
		// stay in Retest and wait for a carried move or the timeout.
		return
	}
	if m.oppositeBreakout(c) {
		m.reset()
	}
}

func (m *Machine) oppositeBreakout(c signal.Candle) bool {
	switch m.direction {
	case signal.Bullish:
		return c.Close < m.consolidationLow*(1-breakoutMinPct)
	case signal.Bearish:
		return c.Close > m.consolidationHigh*(1+breakoutMinPct)
	}
	return false
}

// ObserveConsolidation inspects a window of recent candles for a tight
// range and arms the machine when one is found. Only valid while Scanning.
func (m *Machine) ObserveConsolidation(candles []signal.Candle) bool {
	if m.state != Scanning || len(candles) < consolidationMinCandles {
		return false
	}
	recent := candles[len(candles)-consolidationMinCandles:]
	high, low := recent[0].High, recent[0].Low
	for _, c := range recent[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	mid := (high + low) / 2
	if mid <= 0 {
		return false
	}
	if (high-low)/mid <= consolidationMaxRange {
		m.transition(ConsolidationDetected)
		m.consolidationHigh = high
		m.consolidationLow = low
		return true
	}
	return false
}

func (m *Machine) transition(to State) {
	m.state = to
	m.candlesInState = 0
}

func (m *Machine) reset() {
	m.state = Scanning
	m.direction = signal.Neutral
	m.consolidationHigh = 0
	m.consolidationLow = 0
	m.breakoutPrice = 0
	m.candlesInState = 0
	m.volumeConfirmed = false
}
