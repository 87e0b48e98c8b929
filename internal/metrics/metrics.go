// Package metrics exposes Prometheus collectors for the decision engine and a
// small read-only HTTP endpoint serving them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perpbot"

// CycleDuration is the wall time of one orchestrator cycle.
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one decision cycle in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	},
)

// CyclesTotal counts cycles by outcome.
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of decision cycles",
	},
	[]string{"result"}, // ok, error, panic, skipped
)

// SignalsTotal counts emitted signals by side.
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signals",
		Name:      "emitted_total",
		Help:      "Total number of signals above threshold",
	},
	[]string{"side"},
)

// RejectionsTotal counts risk rejections by code.
var RejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Total number of signals rejected by the risk gatekeeper",
	},
	[]string{"reason"},
)

// OrdersTotal counts exchange orders by kind and result.
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Total number of orders sent to the exchange",
	},
	[]string{"kind", "result"}, // kind: entry, stop, close, cancel
)

// ExitsTotal counts full and partial closes by reason.
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "exits_total",
		Help:      "Total number of position closes",
	},
	[]string{"reason"},
)

// ReplacementsTotal counts positions evicted for a stronger signal.
var ReplacementsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "replacements_total",
		Help:      "Total number of positions replaced by stronger signals",
	},
)

// OpenPositions is the current number of open positions.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
)

// HaltState is 0 when trading, 1 on soft halt and 2 on hard halt.
var HaltState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "halt_state",
		Help:      "Halt state: 0 none, 1 soft, 2 hard",
	},
)

// Equity is the current account equity in quote currency.
var Equity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "equity",
		Help:      "Capital plus unrealized PnL",
	},
)

// DailyRealizedPnL is today's realized PnL in quote currency.
var DailyRealizedPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "daily_realized_pnl",
		Help:      "Realized PnL since the last daily rollover",
	},
)
