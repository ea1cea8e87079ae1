package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(10000, market.Symbols["EURUSD"])
	setQuote(t, e, 1.10000, 1.10010, t0)
	return e
}

func setQuote(t *testing.T, e *Engine, bid, ask float64, tm time.Time) {
	t.Helper()
	require.NoError(t, e.SetQuote(market.Quote{Symbol: "EURUSD", Bid: bid, Ask: ask, Time: tm}))
}

func ptr(v float64) *float64 { return &v }

func TestMarketOrderFillsAtTouch(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	tk, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "EURUSD", Direction: market.Buy, Volume: 0.1})
	require.NoError(t, err)

	pos, err := e.OpenPositions(ctx, []string{"EURUSD"})
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, tk, pos[0].Ticket)
	assert.InDelta(t, 1.10010, pos[0].OpenPrice, 1e-9)
	// marked at bid: ten points of spread on 0.1 lot
	assert.InDelta(t, -1.0, pos[0].Profit, 1e-6)
}

func TestStopLossClosesIntoDeal(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	var seen []broker.Deal
	e.OnDealClosed(func(d broker.Deal) { seen = append(seen, d) })

	_, err := e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: market.Buy, Volume: 1, StopLoss: ptr(1.09900),
	})
	require.NoError(t, err)

	setQuote(t, e, 1.09890, 1.09900, t0.Add(time.Minute))

	pos, err := e.OpenPositions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, pos)

	deals, err := e.ClosedDeals(ctx, t0)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, seen, deals)
	assert.InDelta(t, -120.0, deals[0].Profit, 1e-6)
	assert.InDelta(t, 10000-120.0, e.Balance(), 1e-6)
	assert.Contains(t, deals[0].Comment, "StopLoss")
}

func TestRejectsStopOnWrongSide(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "EURUSD", Direction: market.Sell, Volume: 1, StopLoss: ptr(1.09000),
	})
	assert.ErrorIs(t, err, errdefs.ErrGatewayRejected)
}

func TestPendingStopOrderTriggers(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	tk, err := e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: market.Buy, Type: broker.BuyStop, Volume: 0.5, Price: 1.10100,
	})
	require.NoError(t, err)

	pending, err := e.PendingOrders(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	setQuote(t, e, 1.10095, 1.10105, t0.Add(time.Minute))

	pending, err = e.PendingOrders(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pos, err := e.OpenPositions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, tk, pos[0].Ticket)
}

func TestCancelPendingAndUnknown(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	tk, err := e.SubmitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: market.Sell, Type: broker.SellStop, Volume: 0.5, Price: 1.09000,
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelPending(ctx, tk))
	assert.ErrorIs(t, e.CancelPending(ctx, tk), errdefs.ErrGatewayRejected)
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	tk, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "EURUSD", Direction: market.Buy, Volume: 0.1})
	require.NoError(t, err)

	boom := errors.New("terminal busy")
	e.Fail("close", boom)

	assert.ErrorIs(t, e.ClosePosition(ctx, tk), boom)
	assert.NoError(t, e.ClosePosition(ctx, tk))
}

func TestLatencyHonoursContext(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	e.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Quote(ctx, "EURUSD")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestModifyStops(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	ctx := context.Background()

	tk, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "EURUSD", Direction: market.Buy, Volume: 0.1})
	require.NoError(t, err)

	require.NoError(t, e.ModifyStops(ctx, tk, ptr(1.09500), nil))
	assert.ErrorIs(t, e.ModifyStops(ctx, tk, ptr(1.20000), nil), errdefs.ErrGatewayRejected)

	pos, err := e.OpenPositions(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.09500, pos[0].StopLoss, 1e-9)
}

func TestUnknownSymbol(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	_, err := e.SymbolInfo(context.Background(), "NOPE")
	assert.ErrorIs(t, err, errdefs.ErrInvalidSymbol)

	_, err = e.Quote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, errdefs.ErrMarketDataUnavailable)
}
