package book

import (
	"math"

	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// Stats summarizes closed-trade performance.
type Stats struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64 // [0, 1]
	NetPnL       float64
	GrossProfit  float64
	GrossLoss    float64 // reported positive
	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64 // reported negative
	Largest      float64
	Smallest     float64
}

// Stats computes performance figures over all closed trades.
func (b *Book) Stats() Stats {
	return computeStats(b.Trades())
}

// StatsFor computes performance figures for one category.
func (b *Book) StatsFor(category signal.Category) Stats {
	return computeStats(b.TradesFor(category))
}

func computeStats(trades []Trade) Stats {
	s := Stats{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	s.Largest = math.Inf(-1)
	s.Smallest = math.Inf(1)
	for _, t := range trades {
		s.NetPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
			s.GrossProfit += t.PnL
		} else {
			s.Losses++
			s.GrossLoss += -t.PnL
		}
		s.Largest = math.Max(s.Largest, t.PnL)
		s.Smallest = math.Min(s.Smallest, t.PnL)
	}

	s.WinRate = float64(s.Wins) / float64(len(trades))
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = -s.GrossLoss / float64(s.Losses)
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
