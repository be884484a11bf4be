// Package report renders shutdown performance summaries.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
)

// WritePerformance renders overall and per-category trade statistics.
func WritePerformance(w io.Writer, b *book.Book) {
	overall := b.Stats()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Performance")
	t.AppendHeader(table.Row{"Segment", "Trades", "Win Rate", "Net PnL", "Profit Factor", "Avg Win", "Avg Loss"})
	t.AppendRow(statsRow("all", overall))
	t.AppendSeparator()
	for _, cat := range signal.Categories {
		s := b.StatsFor(cat)
		if s.Trades == 0 {
			continue
		}
		t.AppendRow(statsRow(string(cat), s))
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%+.2f", overall.NetPnL), "", "", ""})
	t.Render()
}

func statsRow(label string, s book.Stats) table.Row {
	return table.Row{
		label,
		s.Trades,
		fmt.Sprintf("%.1f%%", s.WinRate*100),
		fmt.Sprintf("%+.2f", s.NetPnL),
		profitFactor(s.ProfitFactor),
		fmt.Sprintf("%.2f", s.AvgWin),
		fmt.Sprintf("%.2f", s.AvgLoss),
	}
}

func profitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}

// WriteWeights renders the live weight triples per category.
func WriteWeights(w io.Writer, weights *composite.Weights) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Signal Weights")
	t.AppendHeader(table.Row{"Category", "TA", "Sentiment", "Speed"})
	for _, cat := range signal.Categories {
		triple := weights.Snapshot(cat)
		t.AppendRow(table.Row{
			string(cat),
			fmt.Sprintf("%.2f", triple.TA),
			fmt.Sprintf("%.2f", triple.Sentiment),
			fmt.Sprintf("%.2f", triple.Speed),
		})
	}
	t.Render()
}

// WriteOpenPositions renders any holdings left at shutdown.
func WriteOpenPositions(w io.Writer, b *book.Book) {
	positions := b.Positions()
	if len(positions) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Open Positions")
	t.AppendHeader(table.Row{"Market", "Side", "Qty", "Entry", "Stop", "Target"})
	for _, p := range positions {
		t.AppendRow(table.Row{
			p.Market,
			string(p.Side),
			fmt.Sprintf("%.2f", p.Quantity),
			fmt.Sprintf("%.3f", p.EntryPrice),
			fmt.Sprintf("%.3f", p.StopLoss),
			fmt.Sprintf("%.3f", p.TakeProfit),
		})
	}
	t.Render()
}
