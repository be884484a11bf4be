package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
)

// Slippage bounds as fractions of the limit price. Thin books pay the
// full spread; deep ones pay the floor.
const (
	minSlippagePct = 0.001
	maxSlippagePct = 0.005
)

// Simulated fills every order instantly at an adversely slipped price.
type Simulated struct {
	log zerolog.Logger
	now func() time.Time
}

// NewSimulated builds the paper executor.
func NewSimulated(log zerolog.Logger) *Simulated {
	return &Simulated{log: log, now: time.Now}
}

// Mode reports the executor's trading mode.
func (s *Simulated) Mode() Mode { return ModeSimulated }

// AttemptFill always fills, moving the price against the order by an
// amount that grows with order size relative to recent market volume.
func (s *Simulated) AttemptFill(_ context.Context, order Order) (Fill, error) {
	if order.Quantity <= 0 {
		return Fill{}, errors.New("quantity must be positive")
	}
	if order.LimitPrice <= 0 || order.LimitPrice >= 1 {
		return Fill{}, errors.New("limit price must be inside (0, 1)")
	}

	pct := slippagePct(order)
	price := order.LimitPrice * (1 + pct)
	if order.Kind == Sell {
		price = order.LimitPrice * (1 - pct)
	}
	price = indicator.Clamp(price, 0.01, 0.99)

	slippage := (price - order.LimitPrice) * order.Quantity
	if order.Kind == Sell {
		slippage = -slippage
	}

	fill := Fill{
		Order:    order,
		Price:    price,
		Slippage: slippage,
		Mode:     ModeSimulated,
		Ts:       s.now(),
	}
	s.log.Debug().
		Str("market", order.Market).
		Str("side", string(order.Side)).
		Str("kind", string(order.Kind)).
		Float64("qty", order.Quantity).
		Float64("limit", order.LimitPrice).
		Float64("px", price).
		Msg("simulated fill")
	return fill, nil
}

// slippagePct interpolates between the bounds by the order's share of
// recent market volume. Unknown volume is treated as a thin book.
func slippagePct(order Order) float64 {
	if order.MarketVolume <= 0 {
		return maxSlippagePct
	}
	ratio := indicator.Clamp(order.Notional()/order.MarketVolume, 0, 1)
	return minSlippagePct + ratio*(maxSlippagePct-minSlippagePct)
}
