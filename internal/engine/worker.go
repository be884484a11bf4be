package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/execution"
	"github.com/Joe-Swanson828/prediction-bot/internal/metrics"
	"github.com/Joe-Swanson828/prediction-bot/internal/notify"
	"github.com/Joe-Swanson828/prediction-bot/internal/risk"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// event is one feed update routed to a worker.
type event struct {
	market *signal.Market
	candle *signal.Candle
	book   *signal.OrderbookSnapshot
	news   []signal.NewsItem
}

// worker owns all mutable per-market state. Only its own goroutine
// touches that state, so cycles never race with event absorption.
type worker struct {
	engine *Engine
	events chan event
	stop   chan struct{}

	stopOnce sync.Once

	market   signal.Market
	candles  []signal.Candle
	lastBook signal.OrderbookSnapshot
	pending  []signal.NewsItem
	closed   bool
}

func newWorker(e *Engine, m signal.Market) *worker {
	return &worker{
		engine: e,
		events: make(chan event, e.opts.EventBuffer),
		stop:   make(chan struct{}),
		market: m,
	}
}

// send never blocks; a saturated worker drops the oldest buffered event
// to keep the dispatcher responsive.
func (w *worker) send(ev event) {
	select {
	case w.events <- ev:
	default:
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- ev:
		default:
		}
	}
}

func (w *worker) close() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *worker) run(ctx context.Context) {
	defer w.engine.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.engine.fatal(fmt.Sprintf("worker %s panic: %v", w.market.ID, r))
		}
	}()

	ticker := time.NewTicker(w.engine.opts.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev := <-w.events:
			w.absorb(ev)
			if w.closed {
				return
			}
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// absorb folds one event into worker state. Market updates also check
// exits immediately so stops fire between evaluation cycles.
func (w *worker) absorb(ev event) {
	switch {
	case ev.market != nil:
		w.market = *ev.market
		if w.market.Status == signal.MarketClosed {
			w.onMarketClosed()
			return
		}
		w.checkExits(w.engine.executor())
	case ev.candle != nil:
		w.candles = append(w.candles, *ev.candle)
		if len(w.candles) > candleWindow {
			w.candles = w.candles[len(w.candles)-candleWindow:]
		}
	case ev.book != nil:
		w.lastBook = *ev.book
	case len(ev.news) > 0:
		w.pending = append(w.pending, ev.news...)
	}
}

// onMarketClosed settles any open position at the final quote and
// retires the worker.
func (w *worker) onMarketClosed() {
	e := w.engine
	if pos, ok := e.opts.Book.Position(w.market.ID); ok {
		exit := book.LegPrice(w.market.YesPrice, pos.Side)
		trade, err := e.opts.Book.Close(w.market.ID, exit, book.ReasonMarketClosed)
		if err != nil {
			e.fatal(fmt.Sprintf("close on market close %s: %v", w.market.ID, err))
			return
		}
		e.recordTrade(trade)
		e.review(trade.Category)
	}
	w.closed = true
	go e.remove(w.market.ID)
}

// checkExits closes the position when the current quote crosses its
// stop or target.
func (w *worker) checkExits(exec execution.Executor) {
	e := w.engine
	pos, ok := e.opts.Book.Position(w.market.ID)
	if !ok {
		return
	}
	legPrice := book.LegPrice(w.market.YesPrice, pos.Side)
	reason, exit := risk.ShouldExit(pos, legPrice)
	if !exit {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.CycleTimeout)
	defer cancel()
	fillPrice := legPrice
	fill, err := exec.AttemptFill(ctx, execution.Order{
		Market:       w.market.ID,
		Side:         pos.Side,
		Kind:         execution.Sell,
		Quantity:     pos.Quantity,
		LimitPrice:   legPrice,
		MarketVolume: w.market.Volume,
	})
	switch {
	case err == nil:
		fillPrice = fill.Price
	case errors.Is(err, execution.ErrAmbiguous):
		// Position state is unknown at the venue; stop trading rather
		// than risk double exits.
		e.fatal(fmt.Sprintf("ambiguous exit fill for %s", w.market.ID))
		return
	default:
		// The venue still holds the position. Leave it on the book and
		// let the next quote or cycle retry the exit.
		e.log.Error().
			Str("market", w.market.ID).
			Str("reason", string(reason)).
			Err(err).
			Msg("exit fill failed, position remains open")
		e.publish(notify.Event{Kind: "exit_failed", Market: w.market.ID, Detail: err.Error()})
		return
	}

	trade, err := e.opts.Book.Close(w.market.ID, fillPrice, reason)
	if err != nil {
		e.fatal(fmt.Sprintf("close %s: %v", w.market.ID, err))
		return
	}
	e.log.Info().
		Str("market", w.market.ID).
		Str("reason", string(reason)).
		Float64("pnl", trade.PnL).
		Msg("position closed")
	e.recordTrade(trade)
	e.review(trade.Category)
}

// cycle runs one full evaluation under a deadline. The executor is
// read once up front so a mode switch cannot split one cycle's exit
// and entry across executors. A cycle that cannot finish in time
// counts as a timeout and decides nothing.
func (w *worker) cycle(parent context.Context) {
	e := w.engine
	ctx, cancel := context.WithTimeout(parent, e.opts.CycleTimeout)
	defer cancel()

	exec := e.executor()
	w.checkExits(exec)
	if len(w.candles) == 0 {
		return
	}

	ta := e.opts.Technical.Analyze(w.market.ID, w.candles, w.lastBook)
	sentimentResult := e.opts.Sentiment.Analyze(w.market.ID, w.market.Category, w.drainNews())
	spd := e.opts.Speed.Score(w.market.ID, w.market.YesPrice, sentimentResult.RapidShift)

	if ctx.Err() != nil {
		metrics.CycleTimeoutsTotal.WithLabelValues(w.market.ID).Inc()
		e.log.Warn().Str("market", w.market.ID).Msg("cycle deadline exceeded, holding")
		return
	}

	comp := e.opts.Aggregate.Combine(w.market, ta, sentimentResult.Score, spd)
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordScore(ta)
		e.opts.Recorder.RecordScore(sentimentResult.Score)
		e.opts.Recorder.RecordScore(spd)
		e.opts.Recorder.RecordComposite(comp)
	}
	metrics.CyclesTotal.WithLabelValues(w.market.ID).Inc()

	if !comp.TradeEligible() {
		return
	}
	w.enter(ctx, exec, comp)
}

func (w *worker) drainNews() []signal.NewsItem {
	items := w.pending
	w.pending = nil
	return items
}

// enter sizes, fills, and books a new position for an eligible
// composite.
func (w *worker) enter(ctx context.Context, exec execution.Executor, comp signal.Composite) {
	e := w.engine
	proposal, err := e.opts.Risk.Evaluate(comp, w.market)
	if err != nil {
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			metrics.RejectionsTotal.WithLabelValues(string(rej.Constraint)).Inc()
			e.log.Debug().Str("market", w.market.ID).Str("constraint", string(rej.Constraint)).Msg("proposal rejected")
		} else {
			e.log.Warn().Str("market", w.market.ID).Err(err).Msg("risk evaluation failed")
		}
		return
	}

	fill, err := exec.AttemptFill(ctx, execution.Order{
		Market:       proposal.Market,
		Side:         proposal.Side,
		Kind:         execution.Buy,
		Quantity:     proposal.Quantity,
		LimitPrice:   proposal.LimitPrice,
		MarketVolume: w.market.Volume,
	})
	metrics.OrdersTotal.WithLabelValues(proposal.Market, string(proposal.Side), string(exec.Mode())).Inc()
	if err != nil {
		if errors.Is(err, execution.ErrAmbiguous) {
			e.log.Error().Str("market", proposal.Market).Msg("ambiguous entry fill, assuming no position")
		} else {
			e.log.Warn().Str("market", proposal.Market).Err(err).Msg("entry fill failed")
		}
		return
	}

	pos, err := e.opts.Book.Open(book.OpenRequest{
		Market:     proposal.Market,
		Category:   proposal.Category,
		Side:       proposal.Side,
		Quantity:   fill.Order.Quantity,
		FillPrice:  fill.Price,
		StopLoss:   proposal.StopLoss,
		TakeProfit: proposal.TakeProfit,
		Signals:    proposal.Signals,
	})
	if err != nil {
		// A fill the book cannot absorb means sizing and balances have
		// diverged, which is not a state to keep trading in.
		e.fatal(fmt.Sprintf("book open after fill %s: %v", proposal.Market, err))
		return
	}

	metrics.OpenPositions.Set(float64(e.opts.Book.OpenCount()))
	metrics.CashBalance.Set(e.opts.Book.Cash())
	e.log.Info().
		Str("market", pos.Market).
		Str("side", string(pos.Side)).
		Float64("qty", pos.Quantity).
		Float64("px", pos.EntryPrice).
		Float64("score", comp.Final).
		Msg("position opened")
	e.publish(notify.Event{
		Kind:   "trade_opened",
		Market: pos.Market,
		Detail: fmt.Sprintf("%s %.2f @ %.3f (score %.0f)", pos.Side, pos.Quantity, pos.EntryPrice, comp.Final),
	})
}
