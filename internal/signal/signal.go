// Package signal standardizes payloads shared between data ingestion,
// analysis, and execution layers.
package signal

import "time"

// Category identifies the market segment a contract belongs to.
type Category string

const (
	CategorySports  Category = "sports"
	CategoryCrypto  Category = "crypto"
	CategoryWeather Category = "weather"
)

// Categories lists every segment the bot operates in.
var Categories = []Category{CategorySports, CategoryCrypto, CategoryWeather}

// Direction expresses the bias of a signal or position.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Recommendation is the terminal decision of the composite aggregator.
type Recommendation string

const (
	BuyYes Recommendation = "BUY_YES"
	BuyNo  Recommendation = "BUY_NO"
	Hold   Recommendation = "HOLD"
)

// ScoreType tags which analysis engine produced a score.
type ScoreType string

const (
	TypeTA        ScoreType = "ta"
	TypeSentiment ScoreType = "sentiment"
	TypeSpeed     ScoreType = "speed"
)

// MarketStatus tracks whether a contract is still tradable.
type MarketStatus string

const (
	MarketActive MarketStatus = "active"
	MarketClosed MarketStatus = "closed"
)

// Market models a prediction market contract. Identity fields are immutable;
// prices and status are refreshed by the orchestrator from the feed.
type Market struct {
	ID       string // "<exchange>:<ticker>"
	Exchange string
	Ticker   string
	Title    string
	Category Category
	YesPrice float64 // [0, 1]
	NoPrice  float64 // [0, 1], ≈ 1 - YesPrice modulo spread
	Volume   float64
	Status   MarketStatus
	Updated  time.Time
}

// Candle is one OHLCV bar for a market. Unique per (market, timestamp),
// ordered ascending; spacing between candles is not guaranteed.
type Candle struct {
	Market string
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// OrderbookSnapshot carries bid-side depth for both contract legs. Feeds
// publish bids only; the ask side is implied by the complementary contract.
type OrderbookSnapshot struct {
	Market       string
	YesBidVolume float64
	NoBidVolume  float64
	Ts           time.Time
}

// NewsItem is one timestamped text item for sentiment scoring.
type NewsItem struct {
	Text string
	Ts   time.Time
}

// SourceHealth reports a collaborator feed's availability.
type SourceHealth string

const (
	SourceHealthy  SourceHealth = "healthy"
	SourceDegraded SourceHealth = "degraded"
	SourceDown     SourceHealth = "down"
)

// ExternalReading is a scalar outcome estimate from an independent source
// (weather API, sports odds feed, spot exchange), tagged with its health.
type ExternalReading struct {
	Market      string
	Probability float64 // [0, 100] outcome probability estimate
	Direction   Direction
	SourceCount int
	Health      SourceHealth
	Ts          time.Time
}

// Score is one analysis engine's verdict for a market in one evaluation
// cycle. Immutable once produced; superseded by the next cycle's score.
type Score struct {
	Market     string
	Type       ScoreType
	Value      float64 // [0, 100], 50 = neutral
	Direction  Direction
	Confidence float64 // [0, 100]
	Stale      bool    // underlying data missed its refresh cadence
	Evidence   string
	Ts         time.Time
}

// Composite is the aggregator's decision for one market and cycle. The
// weight fields are a snapshot taken at evaluation time so later agent
// adjustments never rewrite a past decision's audit trail.
type Composite struct {
	Market          string
	Category        Category
	TA              Score
	Sentiment       Score
	Speed           Score
	TAWeight        float64
	SentimentWeight float64
	SpeedWeight     float64
	Final           float64
	Direction       Direction
	Agreeing        int // signal types sharing the consensus direction
	Recommendation  Recommendation
	Ts              time.Time
}

// TradeEligible reports whether the composite cleared both the score
// threshold and the direction-agreement gate.
func (c Composite) TradeEligible() bool {
	return c.Recommendation != Hold
}
