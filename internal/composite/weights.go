// Package composite blends the three per-market signal scores into one
// trade recommendation using category-scoped weights.
package composite

import (
	"fmt"
	"math"
	"sync"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// Weight bounds enforced on every stored triple.
const (
	MinWeight = 0.05
	MaxWeight = 0.70
)

// Triple is one category's signal-type weights. A valid triple sums to
// 1.0 with each component in [MinWeight, MaxWeight].
type Triple struct {
	TA        float64 `yaml:"ta"`
	Sentiment float64 `yaml:"sentiment"`
	Speed     float64 `yaml:"speed"`
}

// Sum returns the triple total.
func (t Triple) Sum() float64 { return t.TA + t.Sentiment + t.Speed }

// Validate reports whether the triple is a legal weight set.
func (t Triple) Validate() error {
	if math.Abs(t.Sum()-1.0) > 0.01 {
		return fmt.Errorf("weights must sum to 1.0, got %.3f", t.Sum())
	}
	for _, w := range []float64{t.TA, t.Sentiment, t.Speed} {
		if w < MinWeight || w > MaxWeight {
			return fmt.Errorf("weight %.3f outside [%.2f, %.2f]", w, MinWeight, MaxWeight)
		}
	}
	return nil
}

// DefaultTriples mirrors the per-category starting weights.
func DefaultTriples() map[signal.Category]Triple {
	return map[signal.Category]Triple{
		signal.CategorySports:  {TA: 0.20, Sentiment: 0.35, Speed: 0.45},
		signal.CategoryCrypto:  {TA: 0.40, Sentiment: 0.30, Speed: 0.30},
		signal.CategoryWeather: {TA: 0.15, Sentiment: 0.05, Speed: 0.80},
	}
}

// Weights holds the live per-category triples. The adaptive agent is the
// single writer; aggregator reads take a snapshot so a concurrent swap can
// never produce a torn triple.
type Weights struct {
	mu      sync.RWMutex
	triples map[signal.Category]Triple
}

// NewWeights builds a store seeded with the given triples, falling back to
// the defaults for missing categories.
func NewWeights(seed map[signal.Category]Triple) *Weights {
	triples := DefaultTriples()
	for cat, t := range seed {
		triples[cat] = t
	}
	return &Weights{triples: triples}
}

// Snapshot returns the current triple for a category. Unknown categories
// get an even split.
func (w *Weights) Snapshot(category signal.Category) Triple {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if t, ok := w.triples[category]; ok {
		return t
	}
	return Triple{TA: 0.33, Sentiment: 0.33, Speed: 0.34}
}

// Swap atomically replaces a category's triple. Invalid triples are
// rejected so readers can never observe an inconsistent weight set.
func (w *Weights) Swap(category signal.Category, t Triple) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("swap %s: %w", category, err)
	}
	w.mu.Lock()
	w.triples[category] = t
	w.mu.Unlock()
	return nil
}
