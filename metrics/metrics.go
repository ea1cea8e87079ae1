// Package metrics exposes the guard's state and the control loop's activity
// as Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

const namespace = "tradeguard"

// Metrics is safe for concurrent use. A nil *Metrics is a no-op, so
// components can take one optionally.
type Metrics struct {
	Registry *prometheus.Registry

	halted         prometheus.Gauge
	realized       prometheus.Gauge
	floating       prometheus.Gauge
	trades         prometheus.Gauge
	inFlight       prometheus.Gauge
	lossLimit      prometheus.Gauge
	tradeLimit     prometheus.Gauge
	armed          prometheus.Gauge
	steps          prometheus.Counter
	stepDuration   prometheus.Histogram
	quoteFailures  *prometheus.CounterVec
	pnlSkips       prometheus.Counter
	legs           *prometheus.CounterVec
	events         *prometheus.CounterVec
	dealsRecorded  prometheus.Counter
	realizedByDeal *prometheus.CounterVec
}

var _ risk.Recorder = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "halted",
			Help: "Risk guard state (0=active, 1=halted)",
		}),
		realized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realized_pnl",
			Help: "Realized P&L in the current trading day",
		}),
		floating: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "floating_pnl",
			Help: "Floating P&L of open positions",
		}),
		trades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trades_today",
			Help: "Accepted trades in the current trading day",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trades_in_flight",
			Help: "Trade slots reserved but not yet answered by the gateway",
		}),
		lossLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_loss_limit",
			Help: "Configured daily loss limit (0=disabled)",
		}),
		tradeLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_trade_limit",
			Help: "Configured daily trade limit (0=disabled)",
		}),
		armed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "breakouts_armed",
			Help: "Armed breakout orders",
		}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "loop_steps_total",
			Help: "Control loop iterations",
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "loop_step_duration_seconds",
			Help:    "Control loop iteration duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}),
		quoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "quote_failures_total",
			Help: "Quotes that could not be fetched",
		}, []string{"symbol"}),
		pnlSkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pnl_update_skipped_total",
			Help: "Ticks where positions or deals could not be read",
		}),
		legs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "legs_total",
			Help: "Order legs by origin and outcome",
		}, []string{"kind", "status"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_events_total",
			Help: "Risk events by kind",
		}, []string{"kind"}),
		dealsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deals_total",
			Help: "Closed deals folded into realized P&L",
		}),
		realizedByDeal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deal_profit_total",
			Help: "Sum of winning and losing deal amounts",
		}, []string{"symbol", "side"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveGuard(s risk.Snapshot) {
	if m == nil {
		return
	}
	halted := 0.0
	if s.State == risk.Halted {
		halted = 1
	}
	m.halted.Set(halted)
	m.realized.Set(s.Realized)
	m.floating.Set(s.Floating)
	m.trades.Set(float64(s.TradeCount))
	m.inFlight.Set(float64(s.InFlight))
	m.lossLimit.Set(s.Limits.DailyLossLimit)
	m.tradeLimit.Set(float64(s.Limits.DailyTradeLimit))
}

func (m *Metrics) ObserveArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

func (m *Metrics) ObserveStep(d time.Duration) {
	if m == nil {
		return
	}
	m.steps.Inc()
	m.stepDuration.Observe(d.Seconds())
}

func (m *Metrics) QuoteFailed(symbol string) {
	if m == nil {
		return
	}
	m.quoteFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) PnLSkipped() {
	if m == nil {
		return
	}
	m.pnlSkips.Inc()
}

func (m *Metrics) Leg(kind, status string) {
	if m == nil {
		return
	}
	m.legs.WithLabelValues(kind, status).Inc()
}

// RecordEvent counts risk events; it lets Metrics sit beside the journal as a
// guard recorder.
func (m *Metrics) RecordEvent(ev risk.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(ev.Kind)).Inc()
}

func (m *Metrics) RecordDeal(d broker.Deal) {
	if m == nil {
		return
	}
	m.dealsRecorded.Inc()
	side := "win"
	amount := d.Profit
	if amount < 0 {
		side, amount = "loss", -amount
	}
	m.realizedByDeal.WithLabelValues(d.Symbol, side).Add(amount)
}
