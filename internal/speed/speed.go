// Package speed scores the bot's information edge per market: data
// freshness, volume spikes, price momentum, and cross-source consensus
// versus the prediction market's own pricing.
package speed

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const (
	freshnessFullSecs = 5.0
	historyWindow     = 30
	momentumLookback  = 3
	momentumScale     = 1000.0 // maps a 0.1 move in [0,1] price space to full score
	spikeSaturation   = 2.0
	edgeThreshold     = 10.0 // percentage points of consensus/market divergence
	rapidShiftBoost   = 15.0
)

// Weights are the sub-signal weights; they must sum to 1.0.
type Weights struct {
	Freshness float64 `yaml:"freshness"`
	Volume    float64 `yaml:"volume"`
	Momentum  float64 `yaml:"momentum"`
	Consensus float64 `yaml:"consensus"`
}

// DefaultWeights splits the four sub-signals evenly.
func DefaultWeights() Weights {
	return Weights{Freshness: 0.25, Volume: 0.25, Momentum: 0.25, Consensus: 0.25}
}

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.Freshness + w.Volume + w.Momentum + w.Consensus
}

type marketData struct {
	lastUpdate time.Time
	prices     []float64
	volumes    []float64
	consensus  *signal.ExternalReading
}

// Monitor tracks per-market tick history and consensus readings.
type Monitor struct {
	weights      Weights
	staleCeiling time.Duration
	now          func() time.Time

	mu   sync.Mutex
	data map[string]*marketData
}

// NewMonitor builds a monitor. Zero weights select the default split and a
// non-positive ceiling defaults to two minutes.
func NewMonitor(weights Weights, staleCeiling time.Duration) *Monitor {
	if weights.Sum() <= 0 {
		weights = DefaultWeights()
	}
	if staleCeiling <= 0 {
		staleCeiling = 2 * time.Minute
	}
	return &Monitor{
		weights:      weights,
		staleCeiling: staleCeiling,
		now:          time.Now,
		data:         make(map[string]*marketData),
	}
}

func (m *Monitor) get(marketID string) *marketData {
	d := m.data[marketID]
	if d == nil {
		d = &marketData{}
		m.data[marketID] = d
	}
	return d
}

// Record stores a price/volume tick. ts is the data's own timestamp, not
// the arrival time, so freshness reflects upstream latency too.
func (m *Monitor) Record(marketID string, price, volume float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(marketID)
	if ts.After(d.lastUpdate) {
		d.lastUpdate = ts
	}
	d.prices = append(d.prices, price)
	d.volumes = append(d.volumes, volume)
	if len(d.prices) > historyWindow {
		d.prices = d.prices[1:]
	}
	if len(d.volumes) > historyWindow {
		d.volumes = d.volumes[1:]
	}
}

// UpdateConsensus stores the latest cross-source reading for a market.
func (m *Monitor) UpdateConsensus(reading signal.ExternalReading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := reading
	m.get(reading.Market).consensus = &r
}

// Forget drops tracking data for a market.
func (m *Monitor) Forget(marketID string) {
	m.mu.Lock()
	delete(m.data, marketID)
	m.mu.Unlock()
}

// Score combines the four sub-signals into one confidence score.
// rapidSentimentShift is the sentiment scorer's velocity flag, folded into
// the momentum sub-signal.
func (m *Monitor) Score(marketID string, marketPrice float64, rapidSentimentShift bool) signal.Score {
	m.mu.Lock()
	d := m.get(marketID)
	prices := append([]float64(nil), d.prices...)
	volumes := append([]float64(nil), d.volumes...)
	lastUpdate := d.lastUpdate
	var consensus *signal.ExternalReading
	if d.consensus != nil {
		c := *d.consensus
		consensus = &c
	}
	m.mu.Unlock()

	now := m.now().UTC()
	stale := false

	freshness := 0.0
	if lastUpdate.IsZero() {
		stale = true
	} else {
		age := now.Sub(lastUpdate).Seconds()
		ceiling := m.staleCeiling.Seconds()
		switch {
		case age <= freshnessFullSecs:
			freshness = 100
		case age >= ceiling:
			freshness = 0
			stale = true
		default:
			freshness = 100 * (1 - (age-freshnessFullSecs)/(ceiling-freshnessFullSecs))
		}
	}

	spike := spikeRatio(volumes)
	volumeScore := indicator.Clamp(spike/spikeSaturation, 0, 1) * 100

	delta := momentum(prices)
	momentumScore := indicator.Clamp(math.Abs(delta)*momentumScale, 0, 100)
	if rapidSentimentShift {
		momentumScore = indicator.Clamp(momentumScore+rapidShiftBoost, 0, 100)
	}
	momentumDir := signal.Neutral
	if delta > 0 {
		momentumDir = signal.Bullish
	} else if delta < 0 {
		momentumDir = signal.Bearish
	}

	consensusScore, consensusDir, edge, consensusStale := m.consensusScore(consensus, marketPrice)
	stale = stale || consensusStale

	w := m.weights
	combined := freshness*w.Freshness + volumeScore*w.Volume + momentumScore*w.Momentum + consensusScore*w.Consensus
	combined = indicator.Clamp(combined, 0, 100)

	direction := majority(consensusDir, momentumDir)
	confidence := combined
	if stale {
		confidence = indicator.Clamp(confidence, 0, 40)
	}

	return signal.Score{
		Market:     marketID,
		Type:       signal.TypeSpeed,
		Value:      combined,
		Direction:  direction,
		Confidence: confidence,
		Stale:      stale,
		Evidence: fmt.Sprintf("fresh=%.0f spike=%.2f momentum=%+.4f edge=%+.1f",
			freshness, spike, delta, edge),
		Ts: now,
	}
}

// consensusScore maps the external reading to [0,100]. 50 is "no edge".
// A market price that contradicts a 3-source supermajority is penalized
// rather than trusted.
func (m *Monitor) consensusScore(reading *signal.ExternalReading, marketPrice float64) (float64, signal.Direction, float64, bool) {
	if reading == nil {
		return 50, signal.Neutral, 0, false
	}
	if reading.Health == signal.SourceDown {
		// A dead source must not masquerade as a confident neutral.
		return 50, signal.Neutral, 0, true
	}
	edge := reading.Probability - marketPrice*100
	sourceFactor := math.Min(float64(reading.SourceCount)/3.0, 1.0)
	score := indicator.Clamp(50+edge*sourceFactor, 0, 100)
	if reading.SourceCount >= 3 && math.Abs(edge) > 25 {
		// Supermajority and market far apart: trust the agreement less.
		score = 50 + (score-50)*0.6
	}
	dir := signal.Neutral
	if edge > edgeThreshold {
		dir = signal.Bullish
	} else if edge < -edgeThreshold {
		dir = signal.Bearish
	}
	stale := reading.Health == signal.SourceDegraded
	return score, dir, edge, stale
}

func spikeRatio(volumes []float64) float64 {
	if len(volumes) < 2 {
		return 1.0
	}
	latest := volumes[len(volumes)-1]
	var sum float64
	for _, v := range volumes[:len(volumes)-1] {
		sum += v
	}
	baseline := sum / float64(len(volumes)-1)
	if baseline < 1 {
		baseline = 1
	}
	return latest / baseline
}

func momentum(prices []float64) float64 {
	if len(prices) < momentumLookback {
		return 0
	}
	return prices[len(prices)-1] - prices[len(prices)-momentumLookback]
}

func majority(consensus, momentum signal.Direction) signal.Direction {
	switch {
	case consensus == momentum:
		return consensus
	case consensus == signal.Neutral:
		return momentum
	case momentum == signal.Neutral:
		return consensus
	default:
		return signal.Neutral
	}
}
