package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Joe-Swanson828/prediction-bot/internal/agent"
	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/execution"
	"github.com/Joe-Swanson828/prediction-bot/internal/feed"
	"github.com/Joe-Swanson828/prediction-bot/internal/risk"
	"github.com/Joe-Swanson828/prediction-bot/internal/sentiment"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
	"github.com/Joe-Swanson828/prediction-bot/internal/speed"
	"github.com/Joe-Swanson828/prediction-bot/internal/technical"
)

type fakeRecorder struct {
	mu         sync.Mutex
	trades     []book.Trade
	composites []signal.Composite
	scores     []signal.Score
	tunings    []agent.LogEntry
	weights    map[signal.Category]composite.Triple
	balance    float64
}

func (r *fakeRecorder) RecordScore(s signal.Score) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, s)
}

func (r *fakeRecorder) RecordComposite(c signal.Composite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composites = append(r.composites, c)
}

func (r *fakeRecorder) RecordTrade(t book.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *fakeRecorder) RecordTuning(e agent.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunings = append(r.tunings, e)
}

func (r *fakeRecorder) SaveWeights(w map[signal.Category]composite.Triple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights = w
	return nil
}

func (r *fakeRecorder) SaveBalance(cash float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = cash
	return nil
}

func (r *fakeRecorder) tradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

func newTestEngine(t *testing.T, b *book.Book) (*Engine, *fakeRecorder) {
	t.Helper()
	weights := composite.NewWeights(nil)
	rec := &fakeRecorder{}
	e, err := New(Options{
		Log:       zerolog.Nop(),
		Book:      b,
		Weights:   weights,
		Aggregate: composite.NewAggregator(weights, 65, composite.StrictMajority),
		Technical: technical.NewAnalyzer(),
		Sentiment: sentiment.NewScorer(10),
		Speed:     speed.NewMonitor(speed.DefaultWeights(), 2*time.Minute),
		Risk:      risk.NewManager(risk.DefaultLimits(), b),
		Agent:     agent.New(b, weights, zerolog.Nop()),
		Recorder:  rec,
		Simulated: execution.NewSimulated(zerolog.Nop()),

		EvalInterval: 10 * time.Millisecond,
		CycleTimeout: time.Second,
	})
	require.NoError(t, err)
	return e, rec
}

func activeMarket(id string, yes float64) signal.Market {
	return signal.Market{
		ID:       id,
		Category: signal.CategoryCrypto,
		YesPrice: yes,
		NoPrice:  1 - yes,
		Volume:   10_000,
		Status:   signal.MarketActive,
	}
}

func openPosition(t *testing.T, b *book.Book, market string) book.Position {
	t.Helper()
	pos, err := b.Open(book.OpenRequest{
		Market:     market,
		Category:   signal.CategoryCrypto,
		Side:       book.SideYes,
		Quantity:   20,
		FillPrice:  0.50,
		StopLoss:   0.425,
		TakeProfit: 0.65,
	})
	require.NoError(t, err)
	return pos
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Log: zerolog.Nop()})
	require.Error(t, err)
}

func TestSetModeRequiresLiveExecutor(t *testing.T) {
	e, _ := newTestEngine(t, book.New(100))
	require.Error(t, e.SetMode(execution.ModeLive))
	require.Error(t, e.SetMode("paper"))
	require.Equal(t, execution.ModeSimulated, e.Mode())
}

func TestStopLossFiresOnMarketUpdate(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)
	openPosition(t, b, "m")

	w := newWorker(e, activeMarket("m", 0.50))
	w.absorb(event{market: ptr(activeMarket("m", 0.40))})

	require.Equal(t, 0, b.OpenCount())
	require.Equal(t, 1, rec.tradeCount())
	require.Equal(t, book.ReasonStopLoss, rec.trades[0].Reason)
}

func TestTakeProfitFiresOnMarketUpdate(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)
	openPosition(t, b, "m")

	w := newWorker(e, activeMarket("m", 0.50))
	w.absorb(event{market: ptr(activeMarket("m", 0.70))})

	require.Equal(t, 0, b.OpenCount())
	require.Equal(t, book.ReasonTakeProfit, rec.trades[0].Reason)
}

func TestFlatQuoteDoesNotExit(t *testing.T) {
	b := book.New(100)
	e, _ := newTestEngine(t, b)
	openPosition(t, b, "m")

	w := newWorker(e, activeMarket("m", 0.50))
	w.absorb(event{market: ptr(activeMarket("m", 0.52))})

	require.Equal(t, 1, b.OpenCount())
}

func TestEnterOpensPositionThroughExecutor(t *testing.T) {
	b := book.New(100)
	e, _ := newTestEngine(t, b)

	market := activeMarket("m", 0.50)
	w := newWorker(e, market)
	w.enter(context.Background(), e.executor(), eligibleComposite("m", 90))

	pos, ok := b.Position("m")
	require.True(t, ok)
	require.Equal(t, book.SideYes, pos.Side)
	// Simulated fills slip adversely, so entry is above the quote.
	require.Greater(t, pos.EntryPrice, 0.50)
	require.Less(t, b.Cash(), 100.0)
}

func TestEnterRespectsRiskRejection(t *testing.T) {
	b := book.New(100)
	e, _ := newTestEngine(t, b)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		openPosition(t, b, id)
	}

	w := newWorker(e, activeMarket("m", 0.50))
	w.enter(context.Background(), e.executor(), eligibleComposite("m", 90))

	_, ok := b.Position("m")
	require.False(t, ok)
}

func TestCycleHoldsWithoutCandles(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)

	w := newWorker(e, activeMarket("m", 0.50))
	w.cycle(context.Background())

	require.Equal(t, 0, b.OpenCount())
	require.Empty(t, rec.composites)
}

func TestCycleRecordsScoresAndComposite(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)

	w := newWorker(e, activeMarket("m", 0.50))
	ts := time.Now()
	for i := 0; i < 6; i++ {
		w.absorb(event{candle: &signal.Candle{
			Market: "m",
			Ts:     ts.Add(time.Duration(i) * time.Minute),
			Open:   0.50, High: 0.502, Low: 0.498, Close: 0.50,
			Volume: 100,
		}})
	}
	w.cycle(context.Background())

	require.Len(t, rec.scores, 3)
	require.Len(t, rec.composites, 1)
	// Flat consolidation must never trade.
	require.Equal(t, signal.Hold, rec.composites[0].Recommendation)
	require.Equal(t, 0, b.OpenCount())
}

func TestMarketClosedSettlesPosition(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)
	openPosition(t, b, "m")

	w := newWorker(e, activeMarket("m", 0.50))
	closed := activeMarket("m", 0.55)
	closed.Status = signal.MarketClosed
	w.absorb(event{market: &closed})

	require.True(t, w.closed)
	require.Equal(t, 0, b.OpenCount())
	require.Equal(t, book.ReasonMarketClosed, rec.trades[0].Reason)
}

// rejectingExecutor fails every fill until err is cleared, then fills
// at the limit price.
type rejectingExecutor struct {
	err   error
	calls int
}

func (r *rejectingExecutor) AttemptFill(_ context.Context, o execution.Order) (execution.Fill, error) {
	r.calls++
	if r.err != nil {
		return execution.Fill{Order: o}, r.err
	}
	return execution.Fill{Order: o, Price: o.LimitPrice, Mode: execution.ModeLive}, nil
}

func (r *rejectingExecutor) Mode() execution.Mode { return execution.ModeLive }

func TestFailedLiveExitKeepsPositionOpen(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)
	venue := &rejectingExecutor{err: errors.New("venue rejected order: 400 insufficient funds")}
	e.opts.Live = venue
	require.NoError(t, e.SetMode(execution.ModeLive))

	openPosition(t, b, "m")
	w := newWorker(e, activeMarket("m", 0.50))
	w.absorb(event{market: ptr(activeMarket("m", 0.40))})

	// The venue never filled, so the book must still hold the position
	// and no trade may reach the ledger.
	require.Equal(t, 1, venue.calls)
	require.Equal(t, 1, b.OpenCount())
	require.Equal(t, 0, rec.tradeCount())
	e.mu.Lock()
	halted := e.halted
	e.mu.Unlock()
	require.False(t, halted)

	// Once the venue recovers, the next quote retries and closes.
	venue.err = nil
	w.absorb(event{market: ptr(activeMarket("m", 0.40))})
	require.Equal(t, 0, b.OpenCount())
	require.Equal(t, 1, rec.tradeCount())
	require.Equal(t, book.ReasonStopLoss, rec.trades[0].Reason)
}

func TestFatalLiquidatesAllPositions(t *testing.T) {
	b := book.New(100)
	e, rec := newTestEngine(t, b)
	openPosition(t, b, "a")
	openPosition(t, b, "b")
	e.mu.Lock()
	e.lastYes["a"] = 0.55
	e.lastYes["b"] = 0.45
	e.mu.Unlock()

	e.fatal("invariant violated")

	require.Equal(t, 0, b.OpenCount())
	require.Equal(t, 2, rec.tradeCount())
	require.NotNil(t, rec.weights)
}

func TestRunSpawnsWorkersAndStops(t *testing.T) {
	b := book.New(100)
	e, _ := newTestEngine(t, b)

	events, incoming := feed.Channels(16)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, incoming) }()

	events.Markets <- activeMarket("m", 0.50)
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.workers) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
	}
}

func eligibleComposite(market string, final float64) signal.Composite {
	return signal.Composite{
		Market:         market,
		Category:       signal.CategoryCrypto,
		Final:          final,
		Direction:      signal.Bullish,
		Agreeing:       3,
		Recommendation: signal.BuyYes,
		TA:             signal.Score{Direction: signal.Bullish},
		Sentiment:      signal.Score{Direction: signal.Bullish},
		Speed:          signal.Score{Direction: signal.Bullish},
	}
}

func ptr[T any](v T) *T { return &v }
