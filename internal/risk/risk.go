// Package risk converts trade-eligible composites into sized order
// proposals, enforcing account-level exposure limits.
package risk

import (
	"fmt"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/indicator"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// Constraint names the limit that rejected a proposal.
type Constraint string

const (
	ConstraintNotEligible   Constraint = "not_eligible"
	ConstraintMaxPositions  Constraint = "max_positions"
	ConstraintOnePerMarket  Constraint = "one_per_market"
	ConstraintExposureCap   Constraint = "exposure_cap"
	ConstraintCashReserve   Constraint = "cash_reserve"
	ConstraintMarketClosed  Constraint = "market_closed"
	ConstraintInvalidQuote  Constraint = "invalid_quote"
	ConstraintBelowMinOrder Constraint = "below_min_order"
)

// Rejection explains why a composite did not become an order.
type Rejection struct {
	Constraint Constraint
	Detail     string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Constraint)
	}
	return fmt.Sprintf("%s: %s", r.Constraint, r.Detail)
}

func reject(c Constraint, format string, args ...any) error {
	return &Rejection{Constraint: c, Detail: fmt.Sprintf(format, args...)}
}

// Limits bounds how much of the account a single decision may commit.
type Limits struct {
	ScoreFloor       float64 `yaml:"score_floor"`        // score mapping to the minimum fraction
	MinFraction      float64 `yaml:"min_fraction"`       // of balance at the score floor
	MaxFraction      float64 `yaml:"max_fraction"`       // of balance at a perfect score, also the per-trade cap
	MaxPositions     int     `yaml:"max_positions"`      // concurrent open positions
	MaxExposure      float64 `yaml:"max_exposure"`       // fraction of balance across all positions
	CashReserve      float64 `yaml:"cash_reserve"`       // fraction of balance kept liquid
	StopLossPct      float64 `yaml:"stop_loss_pct"`      // exit when the leg drops this far from entry
	TakeProfitPct    float64 `yaml:"take_profit_pct"`    // exit when the leg gains this much over entry
	MinOrderNotional float64 `yaml:"min_order_notional"` // skip dust orders below this size
}

// DefaultLimits returns the production limit set.
func DefaultLimits() Limits {
	return Limits{
		ScoreFloor:       65,
		MinFraction:      0.05,
		MaxFraction:      0.20,
		MaxPositions:     5,
		MaxExposure:      0.80,
		CashReserve:      0.20,
		StopLossPct:      0.15,
		TakeProfitPct:    0.30,
		MinOrderNotional: 1.0,
	}
}

// Proposal is a sized, bounded order the executor may attempt.
type Proposal struct {
	Market     string
	Category   signal.Category
	Side       book.Side
	Quantity   float64
	LimitPrice float64 // leg price at decision time
	Notional   float64
	Fraction   float64 // of balance committed
	StopLoss   float64
	TakeProfit float64
	Score      float64
	Signals    book.EntrySignals
}

// Manager sizes proposals against the book's live balances.
type Manager struct {
	limits Limits
	book   *book.Book
}

// NewManager wires limits to the account book.
func NewManager(limits Limits, b *book.Book) *Manager {
	return &Manager{limits: limits, book: b}
}

// Limits returns the active limit set.
func (m *Manager) Limits() Limits { return m.limits }

// SizeFraction maps a composite score onto the committed balance
// fraction, linear from the floor to a perfect score.
func (m *Manager) SizeFraction(score float64) float64 {
	span := 100 - m.limits.ScoreFloor
	if span <= 0 {
		return m.limits.MaxFraction
	}
	frac := m.limits.MinFraction +
		(score-m.limits.ScoreFloor)/span*(m.limits.MaxFraction-m.limits.MinFraction)
	return indicator.Clamp(frac, m.limits.MinFraction, m.limits.MaxFraction)
}

// Evaluate checks a composite against every limit and, if all pass,
// returns a sized proposal. Rejections name the violated constraint.
func (m *Manager) Evaluate(c signal.Composite, market signal.Market) (Proposal, error) {
	side, ok := book.SideFor(c.Recommendation)
	if !ok {
		return Proposal{}, reject(ConstraintNotEligible, "recommendation %s", c.Recommendation)
	}
	if market.Status != signal.MarketActive {
		return Proposal{}, reject(ConstraintMarketClosed, "market %s", market.ID)
	}

	legPrice := book.LegPrice(market.YesPrice, side)
	if legPrice <= 0 || legPrice >= 1 {
		return Proposal{}, reject(ConstraintInvalidQuote, "leg price %.4f", legPrice)
	}

	if _, open := m.book.Position(market.ID); open {
		return Proposal{}, reject(ConstraintOnePerMarket, "market %s", market.ID)
	}
	if m.book.OpenCount() >= m.limits.MaxPositions {
		return Proposal{}, reject(ConstraintMaxPositions, "%d open", m.book.OpenCount())
	}

	cash := m.book.Cash()
	exposure := m.book.Exposure()
	balance := cash + exposure

	fraction := m.SizeFraction(c.Final)
	notional := balance * fraction
	if notional < m.limits.MinOrderNotional {
		return Proposal{}, reject(ConstraintBelowMinOrder, "notional %.2f", notional)
	}
	if exposure+notional > balance*m.limits.MaxExposure {
		return Proposal{}, reject(ConstraintExposureCap,
			"exposure %.2f + %.2f exceeds %.2f", exposure, notional, balance*m.limits.MaxExposure)
	}
	if cash-notional < balance*m.limits.CashReserve {
		return Proposal{}, reject(ConstraintCashReserve,
			"cash %.2f - %.2f below reserve %.2f", cash, notional, balance*m.limits.CashReserve)
	}

	return Proposal{
		Market:     market.ID,
		Category:   c.Category,
		Side:       side,
		Quantity:   notional / legPrice,
		LimitPrice: legPrice,
		Notional:   notional,
		Fraction:   fraction,
		StopLoss:   indicator.Clamp(legPrice*(1-m.limits.StopLossPct), 0.01, 0.99),
		TakeProfit: indicator.Clamp(legPrice*(1+m.limits.TakeProfitPct), 0.01, 0.99),
		Score:      c.Final,
		Signals: book.EntrySignals{
			TA:        c.TA.Direction,
			Sentiment: c.Sentiment.Direction,
			Speed:     c.Speed.Direction,
			Final:     c.Final,
		},
	}, nil
}

// ShouldExit reports whether an open position hit its stop or target
// at the current leg price.
func ShouldExit(pos book.Position, legPrice float64) (book.CloseReason, bool) {
	switch {
	case legPrice <= pos.StopLoss:
		return book.ReasonStopLoss, true
	case legPrice >= pos.TakeProfit:
		return book.ReasonTakeProfit, true
	default:
		return "", false
	}
}
