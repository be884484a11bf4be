// Package book tracks cash, open positions, and the closed-trade record.
// It is the single source of truth for balances; every mutation happens
// under one lock so cash can never go negative mid-cycle.
package book

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

const epsilon = 1e-9

// Side names which contract leg a position holds.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// SideFor maps an aggregator recommendation onto a contract leg.
func SideFor(rec signal.Recommendation) (Side, bool) {
	switch rec {
	case signal.BuyYes:
		return SideYes, true
	case signal.BuyNo:
		return SideNo, true
	default:
		return "", false
	}
}

// LegPrice converts a market YES quote into the price of the given leg.
func LegPrice(yesPrice float64, side Side) float64 {
	if side == SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// CloseReason records why a position was exited.
type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonSignalExit   CloseReason = "signal_exit"
	ReasonMarketClosed CloseReason = "market_closed"
	ReasonShutdown     CloseReason = "shutdown"
)

// EntrySignals snapshots each engine's direction at entry so the tuning
// agent can later judge which engines called the trade correctly.
type EntrySignals struct {
	TA        signal.Direction
	Sentiment signal.Direction
	Speed     signal.Direction
	Final     float64
}

// Position is one open holding. Exactly one position may exist per market.
type Position struct {
	ID         string
	Market     string
	Category   signal.Category
	Side       Side
	Quantity   float64
	EntryPrice float64 // price of the held leg, slippage included
	StopLoss   float64 // leg price that forces an exit
	TakeProfit float64 // leg price that locks the gain
	Signals    EntrySignals
	Opened     time.Time
}

// Unrealized marks the position against the current leg price.
func (p Position) Unrealized(legPrice float64) float64 {
	return (legPrice - p.EntryPrice) * p.Quantity
}

// Trade is the immutable record of a closed position.
type Trade struct {
	ID         string
	Market     string
	Category   signal.Category
	Side       Side
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     CloseReason
	Signals    EntrySignals
	Opened     time.Time
	Closed     time.Time
}

var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrPositionExists   = errors.New("position already open for market")
	ErrNoPosition       = errors.New("no open position for market")
)

// Book holds cash and positions behind a single mutex.
type Book struct {
	mu           sync.Mutex
	startingCash float64
	cash         float64
	positions    map[string]Position
	trades       []Trade
	now          func() time.Time
}

// New constructs a book funded with starting cash.
func New(startingCash float64) *Book {
	return &Book{
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]Position),
		now:          time.Now,
	}
}

// StartingCash returns the initial bankroll.
func (b *Book) StartingCash() float64 { return b.startingCash }

// Cash reports free cash not committed to open positions.
func (b *Book) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// OpenRequest carries everything needed to book a new position.
type OpenRequest struct {
	Market     string
	Category   signal.Category
	Side       Side
	Quantity   float64
	FillPrice  float64 // leg price actually paid
	StopLoss   float64
	TakeProfit float64
	Signals    EntrySignals
}

// Open debits cash and records the position. One position per market;
// the debit is rejected rather than letting cash go negative.
func (b *Book) Open(req OpenRequest) (Position, error) {
	if req.Quantity <= 0 {
		return Position{}, errors.New("quantity must be positive")
	}
	if req.FillPrice <= 0 {
		return Position{}, errors.New("fill price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[req.Market]; ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, req.Market)
	}
	cost := req.Quantity * req.FillPrice
	if cost > b.cash+epsilon {
		return Position{}, fmt.Errorf("%w: need %.2f have %.2f", ErrInsufficientCash, cost, b.cash)
	}

	pos := Position{
		ID:         uuid.NewString(),
		Market:     req.Market,
		Category:   req.Category,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: req.FillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Signals:    req.Signals,
		Opened:     b.now(),
	}
	b.cash -= cost
	b.positions[req.Market] = pos
	return pos, nil
}

// Close exits the position at the given leg price, credits proceeds,
// and appends the immutable trade record.
func (b *Book) Close(marketID string, exitPrice float64, reason CloseReason) (Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked(marketID, exitPrice, reason)
}

func (b *Book) closeLocked(marketID string, exitPrice float64, reason CloseReason) (Trade, error) {
	pos, ok := b.positions[marketID]
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, marketID)
	}
	if exitPrice < 0 {
		exitPrice = 0
	}

	trade := Trade{
		ID:         uuid.NewString(),
		Market:     pos.Market,
		Category:   pos.Category,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        (exitPrice - pos.EntryPrice) * pos.Quantity,
		Reason:     reason,
		Signals:    pos.Signals,
		Opened:     pos.Opened,
		Closed:     b.now(),
	}
	b.cash += pos.Quantity * exitPrice
	delete(b.positions, marketID)
	b.trades = append(b.trades, trade)
	return trade, nil
}

// CloseAll liquidates every open position at the supplied YES quotes.
// Markets missing a quote settle at their entry price so the book stays
// balanced even when the feed is gone.
func (b *Book) CloseAll(yesPrices map[string]float64, reason CloseReason) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make([]Trade, 0, len(b.positions))
	for marketID, pos := range b.positions {
		exit := pos.EntryPrice
		if yes, ok := yesPrices[marketID]; ok {
			exit = LegPrice(yes, pos.Side)
		}
		trade, err := b.closeLocked(marketID, exit, reason)
		if err != nil {
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

// Position returns the open position for a market, if any.
func (b *Book) Position(marketID string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[marketID]
	return pos, ok
}

// Positions returns a copy of every open position.
func (b *Book) Positions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// OpenCount reports how many positions are currently held.
func (b *Book) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Exposure sums the cost basis of all open positions.
func (b *Book) Exposure() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, pos := range b.positions {
		total += pos.Quantity * pos.EntryPrice
	}
	return total
}

// Equity is cash plus positions marked at the supplied YES quotes.
// Unquoted positions mark at cost.
func (b *Book) Equity(yesPrices map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for marketID, pos := range b.positions {
		mark := pos.EntryPrice
		if yes, ok := yesPrices[marketID]; ok {
			mark = LegPrice(yes, pos.Side)
		}
		equity += pos.Quantity * mark
	}
	return equity
}

// Trades returns a copy of the closed-trade record, oldest first.
func (b *Book) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// TradesFor filters the closed-trade record by category.
func (b *Book) TradesFor(category signal.Category) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Trade
	for _, t := range b.trades {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}
