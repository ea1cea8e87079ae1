package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

var day = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func event(id string, at time.Duration, kind risk.EventKind) risk.Event {
	return risk.Event{
		ID:      id,
		Time:    day.Add(at),
		Day:     "2024-06-03",
		Kind:    kind,
		Message: string(kind),
		Payload: map[string]any{"realized": -150.0, "limit": 150.0},
	}
}

func closedDeal(id string, ticket broker.Ticket, at time.Duration, profit float64) broker.Deal {
	return broker.Deal{
		ID:         id,
		Ticket:     ticket,
		Symbol:     "EURUSD",
		Direction:  market.Buy,
		Volume:     0.1,
		OpenPrice:  1.1,
		ClosePrice: 1.09,
		CloseTime:  day.Add(at),
		Profit:     profit,
		Comment:    "batch1",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('risk_events','deals')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["risk_events"])
	assert.True(t, found["deals"])
}

func TestSQLiteRecordEvent(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()

	ev := event("01EV", 10*time.Hour, risk.LossLimitBreach)
	require.NoError(t, j.RecordEvent(ctx, ev))
	// same id is ignored
	require.NoError(t, j.RecordEvent(ctx, ev))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var (
		n       int
		kind    string
		payload string
	)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM risk_events`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT kind, payload FROM risk_events WHERE event_id = ?`, "01EV").Scan(&kind, &payload))
	assert.Equal(t, "LIMIT_BREACH_LOSS", kind)
	assert.JSONEq(t, `{"realized":-150,"limit":150}`, payload)
}

func TestSQLiteRecordDealIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, j.RecordDeal(ctx, closedDeal("D1", 7, 11*time.Hour, -60)))
	require.NoError(t, j.RecordDeal(ctx, closedDeal("D1", 7, 11*time.Hour, -60)))
	require.NoError(t, j.RecordDeal(ctx, closedDeal("D2", 8, 12*time.Hour, 25)))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var (
		n      int
		profit float64
	)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(profit) FROM deals`).Scan(&n, &profit))
	assert.Equal(t, 2, n)
	assert.InDelta(t, -35.0, profit, 1e-9)
}

func TestNewSQLiteBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	assert.Error(t, err)
}
