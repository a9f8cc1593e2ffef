// Package metrics exposes engine counters and gauges for the
// dashboard's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on a private registry so tests can
// build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal    prometheus.Counter
	SignalsArmed   prometheus.Counter
	Breakouts      *prometheus.CounterVec
	TradesExecuted prometheus.Counter
	TradesRefused  *prometheus.CounterVec
	ExitsTotal     *prometheus.CounterVec
	OpenPositions  prometheus.Gauge
	DailyPnL       prometheus.Gauge
	FeedDegraded   prometheus.Gauge
}

// New creates a fresh metrics set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Live runner cycles completed.",
		}),
		SignalsArmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_signals_armed_total",
			Help: "Inside-bar signals armed.",
		}),
		Breakouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_breakouts_total",
			Help: "Confirmed range breakouts by direction.",
		}, []string{"direction"}),
		TradesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_trades_executed_total",
			Help: "Entry orders filled.",
		}),
		TradesRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_refused_total",
			Help: "Signals refused by gate reason.",
		}, []string{"reason"}),
		ExitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_exits_total",
			Help: "Position exits by reason.",
		}, []string{"reason"}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Currently monitored positions.",
		}),
		DailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_pnl_rupees",
			Help: "Realized PnL for the current IST day.",
		}),
		FeedDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_feed_degraded",
			Help: "1 while candles are served from the fetch cache.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
