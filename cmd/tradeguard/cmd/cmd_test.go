package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/broker/paper"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		format  string
		want    string
		wantErr bool
	}{
		{"text", "info", "text", "level=INFO msg=hello", false},
		{"json", "debug", "json", `"msg":"hello"`, false},
		{"bad level", "loud", "text", "", true},
		{"bad format", "info", "xml", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			l, err := newLogger(&buf, tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Info("hello")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestNewLoggerFiltersLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "text")
	require.NoError(t, err)
	l.Info("quiet")
	assert.Empty(t, buf.String())
}

func TestLogPaperDeal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	l, err := newLogger(&buf, "info", "text")
	require.NoError(t, err)

	eng := paper.NewEngine(10_000, market.Symbols["EURUSD"])
	eng.OnDealClosed(logPaperDeal(l))
	require.NoError(t, eng.SetQuote(market.Quote{Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10010}))

	stop := 1.09900
	ticket, err := eng.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: market.Buy, Type: broker.Market, Volume: 0.1, StopLoss: &stop,
	})
	require.NoError(t, err)
	require.NoError(t, eng.SetQuote(market.Quote{Symbol: "EURUSD", Bid: 1.09890, Ask: 1.09900}))

	out := buf.String()
	assert.Contains(t, out, "paper position closed")
	assert.Contains(t, out, fmt.Sprintf("ticket=%d", ticket))
	assert.Contains(t, out, "StopLoss")
}

func TestDayWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 4, 3, 0, 0, 0, time.UTC)

	w, err := dayWindow("", now, 6, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", w.Day())
	assert.True(t, w.End.Equal(time.Date(2024, 6, 4, 6, 0, 0, 0, time.UTC)))

	w, err = dayWindow("2024-06-01", now, 6, time.UTC)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)))

	_, err = dayWindow("June 1", now, 6, time.UTC)
	assert.Error(t, err)
}

func TestOpenJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	j, err := openJournal(config.JournalConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = openJournal(config.JournalConfig{Type: "sqlite", DBPath: filepath.Join(dir, "j.db")})
	require.NoError(t, err)
	_, ok := j.(journal.Querier)
	assert.True(t, ok)
	require.NoError(t, j.Close())

	j, err = openJournal(config.JournalConfig{
		Type:       "csv",
		EventsFile: filepath.Join(dir, "events.csv"),
		DealsFile:  filepath.Join(dir, "deals.csv"),
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = openJournal(config.JournalConfig{Type: "postgres"})
	assert.Error(t, err)
}

func TestSettingsFrom(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.DefaultTimeframe = "M5"
	cfg.BreakevenOffsetPoints = 15

	st, err := settingsFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, market.M5, st.Timeframe)
	assert.Len(t, st.Legs, 4)
	assert.Equal(t, 15.0, st.BreakevenOffsetPoints)

	cfg.DefaultTimeframe = "X9"
	_, err = settingsFrom(cfg)
	assert.Error(t, err)
}

func TestRestoreGuardCountsAcceptedTrades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	limits := risk.Limits{DailyTradeLimit: 2, ResetHour: 6, Location: time.UTC}

	// Two trades accepted this morning under a looser limit, both still
	// open, so no deals exist.
	first, err := risk.NewGuard(risk.Limits{ResetHour: 6, Location: time.UTC},
		risk.WithClock(func() time.Time { return now.Add(-2 * time.Hour) }),
		risk.WithRecorder(journalRecorder{ctx: ctx, j: j}),
	)
	require.NoError(t, err)
	for _, ticket := range []broker.Ticket{1, 2} {
		r, err := first.Reserve()
		require.NoError(t, err)
		r.Commit(ctx, ticket)
	}

	halts := 0
	guard, err := risk.NewGuard(limits,
		risk.WithClock(func() time.Time { return now }),
		risk.WithHaltHandler(func(context.Context, risk.Event) { halts++ }),
	)
	require.NoError(t, err)

	restoreGuard(ctx, guard, j, limits, now)
	snap := guard.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	assert.Equal(t, risk.TradeLimitBreach, snap.HaltKind)
	assert.False(t, guard.CanTrade())
	assert.Equal(t, 1, halts)
}

// journalRecorder writes straight through to a store.
type journalRecorder struct {
	ctx context.Context
	j   journal.Journal
}

func (r journalRecorder) RecordEvent(ev risk.Event) { _ = r.j.RecordEvent(r.ctx, ev) }
func (r journalRecorder) RecordDeal(d broker.Deal)  { _ = r.j.RecordDeal(r.ctx, d) }

func TestRestoreGuardFromJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordEvent(ctx, risk.Event{
		ID:      "01HALT",
		Time:    now.Add(-time.Hour),
		Day:     "2024-06-03",
		Kind:    risk.LossLimitBreach,
		Message: "daily loss limit reached",
	}))

	limits := risk.Limits{DailyLossLimit: 100, ResetHour: 6, Location: time.UTC}
	guard, err := risk.NewGuard(limits, risk.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	restoreGuard(ctx, guard, j, limits, now)
	assert.False(t, guard.CanTrade())
	assert.Equal(t, risk.LossLimitBreach, guard.Snapshot().HaltKind)
}
