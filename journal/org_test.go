package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

func TestFormatDayOrg(t *testing.T) {
	t.Parallel()

	w := risk.WindowAt(day.Add(12*time.Hour), 6, time.UTC)
	halt := event("01A", 10*time.Hour, risk.LossLimitBreach)
	s := Summary{Deals: 2, Trades: 1, Realized: -150, LastHalt: &halt}

	out := FormatDayOrg(w, s, []risk.Event{halt}, []broker.Deal{closedDeal("D1", 1, 9*time.Hour, -150)})

	assert.Contains(t, out, "** Trading day 2024-06-03\n")
	assert.Contains(t, out, ":WINDOW_START: 2024-06-03T06:00:00Z\n")
	assert.Contains(t, out, ":REALIZED_PL: -150.00\n")
	assert.Contains(t, out, ":HALTED: LIMIT_BREACH_LOSS LIMIT_BREACH_LOSS\n")
	assert.Contains(t, out, "- 10:00:00 LIMIT_BREACH_LOSS")
	assert.Contains(t, out, "| 09:00:00 | 1 | EURUSD | buy | 0.10 | 1.10000 | 1.09000 | -150.00 | batch1 |")
}

func TestFormatDayOrgEmpty(t *testing.T) {
	t.Parallel()

	w := risk.WindowAt(day, 0, time.UTC)
	trade := event("01T", 9*time.Hour, risk.TradeAccepted)
	out := FormatDayOrg(w, Summary{Trades: 1}, []risk.Event{trade}, nil)

	assert.NotContains(t, out, ":HALTED:")
	assert.NotContains(t, out, "TRADE_ACCEPTED")
	assert.Contains(t, out, ":TRADES: 1\n")
	assert.Contains(t, out, "*** Risk events\n- none\n")
	assert.Contains(t, out, "*** Deals\n- none\n")
}
