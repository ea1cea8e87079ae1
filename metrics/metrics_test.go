package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

func TestObserveGuard(t *testing.T) {
	t.Parallel()
	m := New()

	m.ObserveGuard(risk.Snapshot{
		State:      risk.Halted,
		Realized:   -100,
		Floating:   -60,
		TradeCount: 4,
		InFlight:   1,
		Limits:     risk.Limits{DailyLossLimit: 150, DailyTradeLimit: 20},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.halted))
	assert.Equal(t, -100.0, testutil.ToFloat64(m.realized))
	assert.Equal(t, -60.0, testutil.ToFloat64(m.floating))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.trades))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.lossLimit))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.tradeLimit))
}

func TestRecorderCounts(t *testing.T) {
	t.Parallel()
	m := New()

	m.RecordEvent(risk.Event{Kind: risk.LossLimitBreach})
	m.RecordEvent(risk.Event{Kind: risk.AutoClose})
	m.RecordEvent(risk.Event{Kind: risk.AutoClose})
	m.RecordDeal(broker.Deal{Symbol: "EURUSD", Profit: 12.5})
	m.RecordDeal(broker.Deal{Symbol: "EURUSD", Profit: -2.5})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(risk.AutoClose))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues(string(risk.LossLimitBreach))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dealsRecorded))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.realizedByDeal.WithLabelValues("EURUSD", "win")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.realizedByDeal.WithLabelValues("EURUSD", "loss")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveGuard(risk.Snapshot{})
		m.ObserveArmed(1)
		m.ObserveStep(time.Millisecond)
		m.QuoteFailed("EURUSD")
		m.PnLSkipped()
		m.Leg("batch", "SUBMITTED")
		m.RecordEvent(risk.Event{})
		m.RecordDeal(broker.Deal{})
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveStep(20 * time.Millisecond)
	m.Leg("breakout", "SUBMITTED")
	m.QuoteFailed("XAUUSD")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "tradeguard_loop_steps_total 1")
	assert.Contains(t, string(body), `tradeguard_legs_total{kind="breakout",status="SUBMITTED"} 1`)
	assert.Contains(t, string(body), `tradeguard_quote_failures_total{symbol="XAUUSD"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
