// Package engine orchestrates the trading loop: it fans feed events out
// to one worker per market, runs sequential evaluation cycles, and owns
// the lifecycle of positions from proposal to close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/agent"
	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/execution"
	"github.com/Joe-Swanson828/prediction-bot/internal/feed"
	"github.com/Joe-Swanson828/prediction-bot/internal/metrics"
	"github.com/Joe-Swanson828/prediction-bot/internal/notify"
	"github.com/Joe-Swanson828/prediction-bot/internal/risk"
	"github.com/Joe-Swanson828/prediction-bot/internal/sentiment"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
	"github.com/Joe-Swanson828/prediction-bot/internal/speed"
	"github.com/Joe-Swanson828/prediction-bot/internal/technical"
)

// ErrHalted reports that the engine stopped itself after a fatal
// invariant violation and liquidated every position.
var ErrHalted = errors.New("engine halted")

// Recorder persists the audit trail. All methods must be non-blocking
// or cheap; the store satisfies this with its async writer.
type Recorder interface {
	RecordScore(signal.Score)
	RecordComposite(signal.Composite)
	RecordTrade(book.Trade)
	RecordTuning(agent.LogEntry)
	SaveWeights(map[signal.Category]composite.Triple) error
	SaveBalance(cash float64) error
}

// Options wires the engine's collaborators.
type Options struct {
	Log       zerolog.Logger
	Book      *book.Book
	Weights   *composite.Weights
	Aggregate *composite.Aggregator
	Technical *technical.Analyzer
	Sentiment *sentiment.Scorer
	Speed     *speed.Monitor
	Risk      *risk.Manager
	Agent     *agent.Agent
	Recorder  Recorder          // optional
	Notifier  *notify.Notifier  // optional
	Simulated execution.Executor
	Live      execution.Executor // optional, enables live mode
	Mode      execution.Mode

	EvalInterval time.Duration
	CycleTimeout time.Duration
	EventBuffer  int
}

const (
	defaultEvalInterval = 2 * time.Second
	defaultCycleTimeout = 5 * time.Second
	defaultEventBuffer  = 256
	candleWindow        = 200
)

// Engine runs one goroutine per tracked market plus a dispatcher that
// routes feed events. Each worker's cycles are strictly sequential.
type Engine struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	workers  map[string]*worker
	lastYes  map[string]float64
	mode     execution.Mode
	halted   bool
	haltMsg  string
	stopping bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates options and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Book == nil || opts.Weights == nil || opts.Aggregate == nil ||
		opts.Technical == nil || opts.Sentiment == nil || opts.Speed == nil ||
		opts.Risk == nil || opts.Agent == nil || opts.Simulated == nil {
		return nil, errors.New("engine: missing required collaborator")
	}
	if opts.EvalInterval <= 0 {
		opts.EvalInterval = defaultEvalInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	mode := opts.Mode
	if mode == "" {
		mode = execution.ModeSimulated
	}
	if mode == execution.ModeLive && opts.Live == nil {
		return nil, errors.New("engine: live mode requires a live executor")
	}
	return &Engine{
		opts:    opts,
		log:     opts.Log,
		workers: make(map[string]*worker),
		lastYes: make(map[string]float64),
		mode:    mode,
	}, nil
}

// Mode reports the active trading mode.
func (e *Engine) Mode() execution.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches executors. The change applies from each worker's
// next cycle; a cycle already in flight finishes on the old executor.
func (e *Engine) SetMode(mode execution.Mode) error {
	if mode != execution.ModeSimulated && mode != execution.ModeLive {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == execution.ModeLive && e.opts.Live == nil {
		return errors.New("live executor not configured")
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	e.log.Info().Str("mode", string(mode)).Msg("trading mode switched")
	return nil
}

func (e *Engine) executor() execution.Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == execution.ModeLive {
		return e.opts.Live
	}
	return e.opts.Simulated
}

// Run consumes feed events until the context is canceled or the engine
// halts. On return every worker has stopped.
func (e *Engine) Run(ctx context.Context, events feed.Incoming) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	for {
		select {
		case <-runCtx.Done():
			e.shutdown()
			e.mu.Lock()
			halted := e.halted
			e.mu.Unlock()
			if halted {
				return ErrHalted
			}
			return ctx.Err()
		case m := <-events.Markets:
			e.onMarket(runCtx, m)
		case c := <-events.Candles:
			e.opts.Speed.Record(c.Market, c.Close, c.Volume, c.Ts)
			e.route(c.Market, event{candle: &c})
		case b := <-events.Books:
			e.route(b.Market, event{book: &b})
		case n := <-events.News:
			e.route(n.Market, event{news: n.Items})
		case r := <-events.Readings:
			e.opts.Speed.UpdateConsensus(r)
		}
	}
}

func (e *Engine) onMarket(ctx context.Context, m signal.Market) {
	e.mu.Lock()
	e.lastYes[m.ID] = m.YesPrice
	w, ok := e.workers[m.ID]
	if !ok && m.Status == signal.MarketActive && !e.stopping {
		w = newWorker(e, m)
		e.workers[m.ID] = w
		e.wg.Add(1)
		go w.run(ctx)
		e.log.Info().Str("market", m.ID).Str("category", string(m.Category)).Msg("tracking market")
	}
	e.mu.Unlock()
	if w != nil {
		w.send(event{market: &m})
	}
}

func (e *Engine) route(marketID string, ev event) {
	e.mu.Lock()
	w := e.workers[marketID]
	e.mu.Unlock()
	if w != nil {
		w.send(ev)
	}
}

// remove tears down a worker after its market closed. The worker's
// goroutine exits on its stop channel; analyzer state is dropped so a
// re-listed market starts clean.
func (e *Engine) remove(marketID string) {
	e.mu.Lock()
	w := e.workers[marketID]
	delete(e.workers, marketID)
	e.mu.Unlock()
	if w != nil {
		w.close()
	}
	e.opts.Technical.Forget(marketID)
	e.opts.Sentiment.Forget(marketID)
	e.opts.Speed.Forget(marketID)
	e.log.Info().Str("market", marketID).Msg("stopped tracking market")
}

// Halt liquidates every open position at the last known quotes and
// stops the engine. Safe to call from any goroutine; subsequent calls
// are no-ops.
func (e *Engine) Halt(reason string) {
	e.fatal(reason)
}

// fatal liquidates everything and stops the engine. Used for invariant
// violations and worker panics, where continuing to trade on corrupt
// state would be worse than going flat.
func (e *Engine) fatal(reason string) {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return
	}
	e.halted = true
	e.haltMsg = reason
	prices := make(map[string]float64, len(e.lastYes))
	for id, yes := range e.lastYes {
		prices[id] = yes
	}
	cancel := e.cancel
	e.mu.Unlock()

	e.log.Error().Str("reason", reason).Msg("fatal error, liquidating all positions")
	closed := e.opts.Book.CloseAll(prices, book.ReasonShutdown)
	for _, t := range closed {
		e.recordTrade(t)
	}
	e.publish(notify.Event{Kind: "halt", Detail: reason})
	e.saveState()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopping = true
	workers := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.workers = make(map[string]*worker)
	e.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
	e.wg.Wait()
	e.saveState()
}

func (e *Engine) saveState() {
	if e.opts.Recorder == nil {
		return
	}
	triples := make(map[signal.Category]composite.Triple, len(signal.Categories))
	for _, cat := range signal.Categories {
		triples[cat] = e.opts.Weights.Snapshot(cat)
	}
	if err := e.opts.Recorder.SaveWeights(triples); err != nil {
		e.log.Warn().Err(err).Msg("persist weights failed")
	}
	if err := e.opts.Recorder.SaveBalance(e.opts.Book.Cash()); err != nil {
		e.log.Warn().Err(err).Msg("persist balance failed")
	}
}

func (e *Engine) recordTrade(t book.Trade) {
	metrics.TradesClosedTotal.WithLabelValues(string(t.Category), string(t.Reason)).Inc()
	metrics.OpenPositions.Set(float64(e.opts.Book.OpenCount()))
	metrics.CashBalance.Set(e.opts.Book.Cash())
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordTrade(t)
	}
	e.publish(notify.Event{
		Kind:   "trade_closed",
		Market: t.Market,
		Detail: fmt.Sprintf("%s %+.2f (%s)", t.Side, t.PnL, t.Reason),
	})
}

func (e *Engine) publish(ev notify.Event) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Publish(ev)
	}
}

// review runs the tuning agent for a category after a close and
// persists any weight change.
func (e *Engine) review(category signal.Category) {
	entries := e.opts.Agent.Review(category)
	for _, entry := range entries {
		if e.opts.Recorder != nil {
			e.opts.Recorder.RecordTuning(entry)
		}
		if entry.Adjusted {
			metrics.RetunesTotal.WithLabelValues(string(category)).Inc()
			e.publish(notify.Event{
				Kind:   "retune",
				Detail: fmt.Sprintf("%s weights now %.2f/%.2f/%.2f", category, entry.After.TA, entry.After.Sentiment, entry.After.Speed),
			})
		}
	}
	if len(entries) > 0 {
		e.saveState()
	}
}
