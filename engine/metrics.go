package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors. Pass a nil registerer to
// keep them private (tests, embedded use).
type Metrics struct {
	signals       *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	exits         *prometheus.CounterVec
	realizedR     *prometheus.HistogramVec
	dayRealized   *prometheus.GaugeVec
	halted        *prometheus.GaugeVec
	openPositions *prometheus.GaugeVec
	appends       *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intraday_signals_total",
				Help: "Candidate signals by admission outcome",
			},
			[]string{"instrument", "outcome"},
		),
		confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intraday_signal_confidence",
				Help:    "Confidence scores of evaluated signals",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"instrument"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intraday_exits_total",
				Help: "Exit events by rung kind",
			},
			[]string{"instrument", "kind"},
		),
		realizedR: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intraday_realized_r",
				Help:    "Realized R multiple of closed positions",
				Buckets: []float64{-2, -1, -0.5, 0, 0.5, 1, 2, 3, 5},
			},
			[]string{"instrument"},
		),
		dayRealized: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intraday_day_realized_pnl",
				Help: "Realized P&L for the current session",
			},
			[]string{"instrument"},
		),
		halted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intraday_halted",
				Help: "1 while new entries are halted by the daily loss limit",
			},
			[]string{"instrument"},
		),
		openPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intraday_open_positions",
				Help: "Positions not yet closed",
			},
			[]string{"instrument"},
		),
		appends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intraday_experience_appends_total",
				Help: "Experience store appends by result",
			},
			[]string{"result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intraday_errors_total",
				Help: "Recoverable errors by type",
			},
			[]string{"type"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.signals,
			m.confidence,
			m.exits,
			m.realizedR,
			m.dayRealized,
			m.halted,
			m.openPositions,
			m.appends,
			m.errors,
		)
	}
	return m
}
