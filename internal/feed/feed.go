// Package feed hosts market data providers for prediction market venues.
package feed

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/metrics"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic markets (tests/offline work).
	ProviderStub = "stub"
	// ProviderWebsocket streams live market data from a venue websocket.
	ProviderWebsocket = "websocket"
)

// MarketNews batches sentiment inputs for one market.
type MarketNews struct {
	Market string
	Items  []signal.NewsItem
}

// Events carries everything a provider can emit. The engine owns the
// channels; providers only send.
type Events struct {
	Markets  chan<- signal.Market
	Candles  chan<- signal.Candle
	Books    chan<- signal.OrderbookSnapshot
	News     chan<- MarketNews
	Readings chan<- signal.ExternalReading
}

// Incoming is the consumer side of the same channels.
type Incoming struct {
	Markets  <-chan signal.Market
	Candles  <-chan signal.Candle
	Books    <-chan signal.OrderbookSnapshot
	News     <-chan MarketNews
	Readings <-chan signal.ExternalReading
}

// Channels allocates one buffered channel set and returns both ends.
func Channels(buffer int) (Events, Incoming) {
	if buffer <= 0 {
		buffer = 256
	}
	markets := make(chan signal.Market, buffer)
	candles := make(chan signal.Candle, buffer)
	books := make(chan signal.OrderbookSnapshot, buffer)
	news := make(chan MarketNews, buffer)
	readings := make(chan signal.ExternalReading, buffer)
	return Events{
			Markets:  markets,
			Candles:  candles,
			Books:    books,
			News:     news,
			Readings: readings,
		}, Incoming{
			Markets:  markets,
			Candles:  candles,
			Books:    books,
			News:     news,
			Readings: readings,
		}
}

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	log          zerolog.Logger
	wsURL        string
	tickInterval time.Duration
	msgRate      float64 // websocket messages per second admitted downstream
	msgBurst     int

	mu      sync.RWMutex
	markets []signal.Market
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultTickInterval = 500 * time.Millisecond
	defaultMsgRate      = 50
	defaultMsgBurst     = 100
)

// WithTickInterval overrides the stub provider's emission cadence.
func WithTickInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.tickInterval = d
		}
	}
}

// WithWebsocketURL sets the venue stream endpoint.
func WithWebsocketURL(url string) Option {
	return func(f *Feed) { f.wsURL = url }
}

// WithMessageRate bounds how fast websocket messages are admitted.
func WithMessageRate(perSecond float64, burst int) Option {
	return func(f *Feed) {
		if perSecond > 0 {
			f.msgRate = perSecond
		}
		if burst > 0 {
			f.msgBurst = burst
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, markets []signal.Market, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		tickInterval: defaultTickInterval,
		msgRate:      defaultMsgRate,
		msgBurst:     defaultMsgBurst,
	}
	f.setMarkets(markets)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetMarkets replaces the tracked market list (deduplicated by ID,
// sorted for determinism).
func (f *Feed) SetMarkets(markets []signal.Market) {
	f.setMarkets(markets)
}

func (f *Feed) setMarkets(markets []signal.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]signal.Market, len(markets))
	for _, m := range markets {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		unique[m.ID] = m
	}
	f.markets = f.markets[:0]
	for _, m := range unique {
		f.markets = append(f.markets, m)
	}
	sort.Slice(f.markets, func(i, j int) bool { return f.markets[i].ID < f.markets[j].ID })
}

func (f *Feed) snapshotMarkets() []signal.Market {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]signal.Market, len(f.markets))
	copy(out, f.markets)
	return out
}

// Run pushes events until the context is canceled.
func (f *Feed) Run(ctx context.Context, out Events) error {
	switch f.provider {
	case ProviderWebsocket:
		return f.runWebsocket(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runStub walks each market's YES price along a slow sine and emits a
// candle per tick, a book every 4th tick, and a news item every 10th.
func (f *Feed) runStub(ctx context.Context, out Events) error {
	ticker := time.NewTicker(f.tickInterval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			for i, m := range f.snapshotMarkets() {
				phase := float64(step)/20 + float64(i)
				yes := clamp01(0.50 + 0.15*math.Sin(phase))
				m.YesPrice = yes
				m.NoPrice = 1 - yes
				m.Status = signal.MarketActive
				m.Updated = ts

				if !send(ctx, out.Markets, m) {
					return ctx.Err()
				}
				candle := signal.Candle{
					Market: m.ID,
					Ts:     ts,
					Open:   yes,
					High:   yes + 0.002,
					Low:    yes - 0.002,
					Close:  yes,
					Volume: 100 + 50*math.Abs(math.Sin(phase)),
				}
				if !send(ctx, out.Candles, candle) {
					return ctx.Err()
				}
				metrics.FeedEventsTotal.WithLabelValues(ProviderStub, "candle").Inc()

				if step%4 == 0 {
					book := signal.OrderbookSnapshot{
						Market:       m.ID,
						YesBidVolume: 1000 * (1 + math.Sin(phase)),
						NoBidVolume:  1000 * (1 - math.Sin(phase)),
						Ts:           ts,
					}
					if !send(ctx, out.Books, book) {
						return ctx.Err()
					}
					metrics.FeedEventsTotal.WithLabelValues(ProviderStub, "book").Inc()
				}
				if step%10 == 0 {
					news := MarketNews{
						Market: m.ID,
						Items:  []signal.NewsItem{{Text: "volume surge momentum rally", Ts: ts}},
					}
					if !send(ctx, out.News, news) {
						return ctx.Err()
					}
					metrics.FeedEventsTotal.WithLabelValues(ProviderStub, "news").Inc()
				}
			}
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	if ch == nil {
		return true
	}
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}
