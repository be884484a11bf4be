// Package metrics exposes Prometheus counters and gauges for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_events_total", Help: "Market data events ingested"},
		[]string{"provider", "kind"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Evaluation cycles completed"},
		[]string{"market"},
	)
	CycleTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycle_timeouts_total", Help: "Evaluation cycles abandoned on deadline"},
		[]string{"market"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders attempted"},
		[]string{"market", "side", "mode"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_rejections_total", Help: "Proposals rejected by risk limits"},
		[]string{"constraint"},
	)
	TradesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_closed_total", Help: "Positions closed"},
		[]string{"category", "reason"},
	)
	RetunesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weight_retunes_total", Help: "Weight reviews that changed a triple"},
		[]string{"category"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Currently held positions"},
	)
	CashBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "cash_balance", Help: "Free cash in the book"},
	)
)

func init() {
	prometheus.MustRegister(
		FeedEventsTotal, CyclesTotal, CycleTimeoutsTotal, OrdersTotal,
		RejectionsTotal, TradesClosedTotal, RetunesTotal,
		OpenPositions, CashBalance,
	)
}

// Serve exposes /metrics on the given address.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
