package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

func TestBreakevenVolume(t *testing.T) {
	t.Parallel()

	positions := []broker.Position{
		{Symbol: "EURUSD", Direction: market.Buy, Volume: 1.0, OpenPrice: 1.1000},
		{Symbol: "EURUSD", Direction: market.Buy, Volume: 1.0, OpenPrice: 1.1020},
		{Symbol: "EURUSD", Direction: market.Sell, Volume: 5.0, OpenPrice: 1.2000},
		{Symbol: "GBPUSD", Direction: market.Buy, Volume: 5.0, OpenPrice: 1.3000},
	}

	// avg 1.1010, total 2 lots, new stop 1.1050 and 2 legs at 1.1080:
	// v = -((1.1050-1.1010)*2) / (2*(1.1050-1.1080)) = 1.333..
	v, err := BreakevenVolume(positions, unitSym, market.Buy, 1.1050, 1.1080, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.33, v, 1e-12)

	_, err = BreakevenVolume(positions, unitSym, market.Buy, 1.1080, 1.1080, 2)
	assert.ErrorIs(t, err, errdefs.ErrInvalidStop)

	_, err = BreakevenVolume(nil, unitSym, market.Buy, 1.1, 1.2, 1)
	assert.ErrorIs(t, err, errdefs.ErrVolumeOutOfRange)

	_, err = BreakevenVolume(positions, unitSym, market.Buy, 1.1, 1.2, 0)
	assert.True(t, errdefs.IsValidation(err))
}

func TestBreakevenStop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pos      broker.Position
		offset   float64
		want     float64
		tightens bool
	}{
		{"buy without stop", broker.Position{Direction: market.Buy, OpenPrice: 1.1}, 0, 1.1, true},
		{"buy below entry", broker.Position{Direction: market.Buy, OpenPrice: 1.1, StopLoss: 1.09}, 10, 1.0999, true},
		{"buy already past", broker.Position{Direction: market.Buy, OpenPrice: 1.1, StopLoss: 1.105}, 0, 1.1, false},
		{"sell", broker.Position{Direction: market.Sell, OpenPrice: 1.2, StopLoss: 1.21}, -20, 1.1998, true},
		{"sell already past", broker.Position{Direction: market.Sell, OpenPrice: 1.2, StopLoss: 1.19}, 0, 1.2, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := BreakevenStop(tt.pos, unitSym, tt.offset)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.tightens, ok)
		})
	}
}
