package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

// unitSym is a five-digit FX symbol whose point is worth exactly 1.0 per lot.
var unitSym = market.Symbol{
	Name:       "EURUSD",
	Point:      0.00001,
	VolumeStep: 0.01,
	MinVolume:  0.01,
	MaxVolume:  100,
	PointValue: 1.0,
}

func fixedLossLeg(amount, points float64) Leg {
	return Leg{Slot: 1, Enabled: true, Sizing: FixedLoss, Volume: 0.2, FixedLoss: amount, Stop: FixedPoints(points)}
}

func TestSize_FixedLossClampedToMin(t *testing.T) {
	t.Parallel()

	// 5.0 / 3000 = 0.00167 lots, below the broker minimum.
	plan, err := Size(fixedLossLeg(5.0, 3000), unitSym, market.Buy, 1.10000, 3000)
	require.NoError(t, err)

	assert.InDelta(t, 0.01, plan.Volume, 1e-12)
	assert.InDelta(t, 1.07000, plan.StopLoss, 1e-9)
	assert.Zero(t, plan.TakeProfit)
	assert.InDelta(t, 30.0, plan.ImpliedLoss, 1e-9)
	assert.False(t, plan.OverRisk)
}

func TestSize_FixedLossExact(t *testing.T) {
	t.Parallel()

	plan, err := Size(fixedLossLeg(50, 100), unitSym, market.Sell, 1.20000, 100)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, plan.Volume, 1e-12)
	assert.InDelta(t, 1.20100, plan.StopLoss, 1e-9)
	assert.InDelta(t, 50.0, plan.ImpliedLoss, 1e-9)
}

func TestSize_FixedVolume(t *testing.T) {
	t.Parallel()

	leg := Leg{Slot: 2, Enabled: true, Sizing: FixedVolume, Volume: 0.237, Stop: FixedPoints(200), TakeProfitPoints: 400}
	plan, err := Size(leg, unitSym, market.Buy, 1.10000, 200)
	require.NoError(t, err)

	assert.InDelta(t, 0.24, plan.Volume, 1e-12)
	assert.InDelta(t, 1.09800, plan.StopLoss, 1e-9)
	assert.InDelta(t, 1.10400, plan.TakeProfit, 1e-9)
	assert.Equal(t, 2, plan.Slot)
}

func TestSize_ImpliedLossWithinOneStep(t *testing.T) {
	t.Parallel()

	for _, amount := range []float64{1, 3.3, 5, 12.5, 50, 99.99, 250, 1000} {
		for _, points := range []float64{10, 37, 150, 500, 3000, 12000} {
			plan, err := Size(fixedLossLeg(amount, points), unitSym, market.Buy, 1.5, points)
			require.NoError(t, err)

			step := ImpliedLoss(unitSym, unitSym.VolumeStep, points)
			assert.LessOrEqual(t, plan.ImpliedLoss, amount+step+1e-9, "amount=%v points=%v", amount, points)
			assert.Equal(t, plan.ImpliedLoss > amount+step+1e-9, plan.OverRisk)
		}
	}
}

func TestSize_OverRiskWhenMinVolumeIsCoarse(t *testing.T) {
	t.Parallel()

	sym := unitSym
	sym.MinVolume = 0.1

	plan, err := Size(fixedLossLeg(5, 1000), sym, market.Buy, 1.5, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, plan.Volume, 1e-12)
	assert.True(t, plan.OverRisk)
}

func TestSize_Errors(t *testing.T) {
	t.Parallel()

	tight := unitSym
	tight.StopsLevel = 50

	tests := []struct {
		name   string
		leg    Leg
		sym    market.Symbol
		entry  float64
		points float64
		target error
	}{
		{"bad symbol", fixedLossLeg(5, 100), market.Symbol{Name: "X"}, 1.1, 100, errdefs.ErrInvalidSymbol},
		{"zero stop", fixedLossLeg(5, 100), unitSym, 1.1, 0, errdefs.ErrInvalidStop},
		{"inside stops level", fixedLossLeg(5, 100), tight, 1.1, 50, errdefs.ErrInvalidStop},
		{"no entry", fixedLossLeg(5, 100), unitSym, 0, 100, errdefs.ErrMarketDataUnavailable},
		{"stop below zero", fixedLossLeg(5, 100), unitSym, 0.0005, 100, errdefs.ErrInvalidStop},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Size(tt.leg, tt.sym, market.Buy, tt.entry, tt.points)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	_, err := Size(Leg{Slot: 1, Sizing: FixedLoss, Stop: FixedPoints(10)}, unitSym, market.Buy, 1.1, 10)
	assert.True(t, errdefs.IsValidation(err))
}

func TestNormalizeVolume(t *testing.T) {
	t.Parallel()

	sym := unitSym
	sym.MaxVolume = 5

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below min", 0.001, 0.01},
		{"round down", 0.234, 0.23},
		{"round up", 0.235999, 0.24},
		{"above max", 12, 5},
		{"exact", 1.5, 1.5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeVolume(tt.in, sym)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err := NormalizeVolume(0, sym)
	assert.ErrorIs(t, err, errdefs.ErrVolumeOutOfRange)

	coarse := sym
	coarse.MinVolume = 0.015
	got, err := NormalizeVolume(0.001, coarse)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, got, 1e-12)
}

func TestSizer_PlanCandleKeyLevel(t *testing.T) {
	t.Parallel()

	candles := []market.Candle{
		{High: 1.1010, Low: 1.0990},
		{High: 1.1020, Low: 1.0980},
		{High: 1.1015, Low: 1.0995},
		{High: 1.1100, Low: 1.0900}, // forming
	}
	q := market.Quote{Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10010}
	leg := Leg{Slot: 1, Enabled: true, Sizing: FixedVolume, Volume: 0.1, Stop: CandleKeyLevel(2)}

	plan, err := Sizer{MinStopPoints: 10}.Plan(leg, unitSym, market.Buy, q, candles, 20)
	require.NoError(t, err)

	// Ask 1.10010 to low 1.0980 is 210 points, plus 20 offset.
	assert.InDelta(t, 230, plan.StopPoints, 1e-6)
	assert.InDelta(t, 1.09780, plan.StopLoss, 1e-9)
	assert.InDelta(t, 1.10010, plan.Entry, 1e-12)
}

func TestSizer_PlanNotEnoughCandles(t *testing.T) {
	t.Parallel()

	q := market.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1001}
	leg := Leg{Slot: 1, Enabled: true, Sizing: FixedVolume, Volume: 0.1, Stop: CandleKeyLevel(3)}

	_, err := Sizer{}.Plan(leg, unitSym, market.Sell, q, []market.Candle{{High: 1.2, Low: 1.0}}, 0)
	assert.ErrorIs(t, err, errdefs.ErrMarketDataUnavailable)
}
