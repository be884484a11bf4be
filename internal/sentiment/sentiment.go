// Package sentiment scores timestamped text batches for a market using a
// lexicon-based polarity model with per-category keyword boosters.
package sentiment

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const (
	recencyDecay             = 0.9 // weight multiplier per step away from the newest item
	bullishBand              = 58.0
	bearishBand              = 42.0
	defaultVelocityThreshold = 10.0
)

// Result is the output of one sentiment evaluation window.
type Result struct {
	Score       signal.Score
	Velocity    float64 // current window score minus prior window score
	RapidShift  bool    // |velocity| crossed the configured threshold
	SourceCount int
}

// Scorer maintains per-market window history so it can report sentiment
// velocity between consecutive evaluation windows.
type Scorer struct {
	velocityThreshold float64

	mu         sync.Mutex
	lastWindow map[string]float64
}

// NewScorer builds a scorer; a non-positive velocity threshold selects the
// default.
func NewScorer(velocityThreshold float64) *Scorer {
	if velocityThreshold <= 0 {
		velocityThreshold = defaultVelocityThreshold
	}
	return &Scorer{
		velocityThreshold: velocityThreshold,
		lastWindow:        make(map[string]float64),
	}
}

// ScoreText scores a single text item to [0, 100] with 50 neutral.
func ScoreText(text string, category signal.Category) float64 {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return 50
	}
	compound := keywordPolarity(cleaned)
	if boosters, ok := domainBoosters[string(category)]; ok {
		for word, boost := range boosters {
			if containsWord(cleaned, word) {
				compound = indicator.Clamp(compound+boost, -1, 1)
			}
		}
	}
	return (compound + 1) / 2 * 100
}

// Analyze scores a batch of items for one market. Items are weighted by
// recency with exponential decay; an empty batch is neutral, not bearish.
func (s *Scorer) Analyze(marketID string, category signal.Category, items []signal.NewsItem) Result {
	now := time.Now().UTC()
	if len(items) == 0 {
		// No news is no signal: keep the velocity baseline untouched so a
		// quiet window doesn't register as a shift when coverage resumes.
		return Result{Score: signal.Score{
			Market:    marketID,
			Type:      signal.TypeSentiment,
			Value:     50,
			Direction: signal.Neutral,
			Evidence:  "no items",
			Ts:        now,
		}}
	}

	ordered := make([]signal.NewsItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ts.Before(ordered[j].Ts) })

	scores := make([]float64, len(ordered))
	for i, item := range ordered {
		scores[i] = ScoreText(item.Text, category)
	}

	// Newest item carries weight 1.0, each older item decays by 0.9.
	var weighted, totalWeight float64
	n := len(scores)
	for i, sc := range scores {
		w := math.Pow(recencyDecay, float64(n-1-i))
		weighted += sc * w
		totalWeight += w
	}
	value := weighted / totalWeight

	direction := signal.Neutral
	if value > bullishBand {
		direction = signal.Bullish
	} else if value < bearishBand {
		direction = signal.Bearish
	}

	// Confidence: share of items agreeing with the aggregate direction,
	// nudged up when the batch is broad.
	agreeing := 0
	for _, sc := range scores {
		switch direction {
		case signal.Bullish:
			if sc > bullishBand {
				agreeing++
			}
		case signal.Bearish:
			if sc < bearishBand {
				agreeing++
			}
		default:
			if sc >= bearishBand && sc <= bullishBand {
				agreeing++
			}
		}
	}
	confidence := float64(agreeing) / float64(n) * 100
	if n >= 5 {
		confidence = indicator.Clamp(confidence*1.1, 0, 100)
	}

	s.mu.Lock()
	prior, hadPrior := s.lastWindow[marketID]
	s.lastWindow[marketID] = value
	s.mu.Unlock()

	velocity := 0.0
	if hadPrior {
		velocity = value - prior
	}
	rapid := velocity >= s.velocityThreshold || velocity <= -s.velocityThreshold

	return Result{
		Score: signal.Score{
			Market:     marketID,
			Type:       signal.TypeSentiment,
			Value:      value,
			Direction:  direction,
			Confidence: confidence,
			Evidence:   fmt.Sprintf("items=%d agree=%d velocity=%+.1f", n, agreeing, velocity),
			Ts:         now,
		},
		Velocity:    velocity,
		RapidShift:  rapid,
		SourceCount: n,
	}
}

// Forget drops the velocity baseline for a market.
func (s *Scorer) Forget(marketID string) {
	s.mu.Lock()
	delete(s.lastWindow, marketID)
	s.mu.Unlock()
}

func keywordPolarity(text string) float64 {
	words := splitWords(text)
	pos, neg := 0, 0
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func containsWord(text, word string) bool {
	for _, w := range splitWords(text) {
		if w == word {
			return true
		}
	}
	return false
}
