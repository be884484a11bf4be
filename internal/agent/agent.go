// Package agent retunes composite signal weights from realized trade
// outcomes. It is the only writer of weights; scorers read snapshots.
package agent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const (
	// WindowSize is how many closed trades per category trigger a review.
	WindowSize = 20

	weightStep    = 0.05
	promoteAbove  = 0.65 // directional accuracy that earns more weight
	demoteBelow   = 0.40 // directional accuracy that loses weight
	normalizeIter = 4
)

// LogEntry records one retuning review. Entries are written whether or
// not any weight moved, preserving the audit trail.
type LogEntry struct {
	Ts       time.Time
	Category signal.Category
	Window   int
	Accuracy map[signal.ScoreType]float64
	Before   composite.Triple
	After    composite.Triple
	Adjusted bool
	Note     string
}

// Agent reviews closed trades per category and nudges weights toward
// the engines that called them correctly.
type Agent struct {
	book     *book.Book
	weights  *composite.Weights
	log      zerolog.Logger
	reviewed map[signal.Category]int // trades consumed per category
	now      func() time.Time
}

// New wires the agent to the trade book and the shared weight store.
func New(b *book.Book, w *composite.Weights, log zerolog.Logger) *Agent {
	return &Agent{
		book:     b,
		weights:  w,
		log:      log,
		reviewed: make(map[signal.Category]int),
		now:      time.Now,
	}
}

// Review checks whether the category has accumulated a full window of
// unreviewed trades and, if so, retunes its weights. The returned slice
// holds one entry per completed window.
func (a *Agent) Review(category signal.Category) []LogEntry {
	trades := a.book.TradesFor(category)
	var entries []LogEntry
	for len(trades)-a.reviewed[category] >= WindowSize {
		start := a.reviewed[category]
		window := trades[start : start+WindowSize]
		entries = append(entries, a.retune(category, window))
		a.reviewed[category] += WindowSize
	}
	return entries
}

func (a *Agent) retune(category signal.Category, window []book.Trade) LogEntry {
	accuracy := directionalAccuracy(window)
	before := a.weights.Snapshot(category)

	after := before
	adjusted := false
	apply := func(w *float64, acc float64) {
		switch {
		case acc > promoteAbove:
			*w += weightStep
			adjusted = true
		case acc < demoteBelow:
			*w -= weightStep
			adjusted = true
		}
	}
	apply(&after.TA, accuracy[signal.TypeTA])
	apply(&after.Sentiment, accuracy[signal.TypeSentiment])
	apply(&after.Speed, accuracy[signal.TypeSpeed])

	entry := LogEntry{
		Ts:       a.now(),
		Category: category,
		Window:   len(window),
		Accuracy: accuracy,
		Before:   before,
		After:    before,
		Adjusted: false,
	}
	if !adjusted {
		entry.Note = "all engines within tolerance"
		a.log.Info().Str("category", string(category)).Msg("weight review: no change")
		return entry
	}

	after = clampedNormalize(after)
	if err := a.weights.Swap(category, after); err != nil {
		entry.Note = fmt.Sprintf("retune rejected: %v", err)
		a.log.Error().Str("category", string(category)).Err(err).Msg("weight review: swap rejected")
		return entry
	}

	entry.After = after
	entry.Adjusted = true
	a.log.Info().
		Str("category", string(category)).
		Float64("ta", after.TA).
		Float64("sentiment", after.Sentiment).
		Float64("speed", after.Speed).
		Msg("weights retuned")
	return entry
}

// directionalAccuracy scores each engine by how often its entry-time
// direction matched the direction the trade proved correct. Neutral
// never counts as a hit.
func directionalAccuracy(window []book.Trade) map[signal.ScoreType]float64 {
	hits := map[signal.ScoreType]int{}
	for _, trade := range window {
		correct := provenDirection(trade)
		if trade.Signals.TA == correct {
			hits[signal.TypeTA]++
		}
		if trade.Signals.Sentiment == correct {
			hits[signal.TypeSentiment]++
		}
		if trade.Signals.Speed == correct {
			hits[signal.TypeSpeed]++
		}
	}
	n := float64(len(window))
	return map[signal.ScoreType]float64{
		signal.TypeTA:        float64(hits[signal.TypeTA]) / n,
		signal.TypeSentiment: float64(hits[signal.TypeSentiment]) / n,
		signal.TypeSpeed:     float64(hits[signal.TypeSpeed]) / n,
	}
}

// provenDirection derives which market direction the trade's outcome
// vindicated. A profitable YES position proves bullish; a losing one
// proves bearish, and symmetrically for NO.
func provenDirection(trade book.Trade) signal.Direction {
	entered := signal.Bullish
	if trade.Side == book.SideNo {
		entered = signal.Bearish
	}
	if trade.PnL >= 0 {
		return entered
	}
	if entered == signal.Bullish {
		return signal.Bearish
	}
	return signal.Bullish
}

// clampedNormalize forces the triple back inside bounds while keeping
// the sum at one. Residual mass is spread across whichever weights
// still have headroom, so bounds are never violated.
func clampedNormalize(t composite.Triple) composite.Triple {
	clamp := func(v float64) float64 {
		if v < composite.MinWeight {
			return composite.MinWeight
		}
		if v > composite.MaxWeight {
			return composite.MaxWeight
		}
		return v
	}
	weights := []*float64{&t.TA, &t.Sentiment, &t.Speed}
	for _, w := range weights {
		*w = clamp(*w)
	}
	for i := 0; i < normalizeIter; i++ {
		residual := 1 - t.Sum()
		if residual > -1e-9 && residual < 1e-9 {
			break
		}
		var headroom float64
		for _, w := range weights {
			if residual > 0 {
				headroom += composite.MaxWeight - *w
			} else {
				headroom += *w - composite.MinWeight
			}
		}
		if headroom <= 0 {
			break
		}
		for _, w := range weights {
			room := composite.MaxWeight - *w
			if residual < 0 {
				room = *w - composite.MinWeight
			}
			*w = clamp(*w + residual*room/headroom)
		}
	}
	return t
}
