package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(hl ...float64) []Candle {
	t0 := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	out := make([]Candle, 0, len(hl)/2)
	for i := 0; i+1 < len(hl); i += 2 {
		out = append(out, Candle{High: hl[i], Low: hl[i+1], Time: t0.Add(time.Duration(i/2) * time.Minute)})
	}
	return out
}

func TestClosedDropsFormingBar(t *testing.T) {
	t.Parallel()

	cs := bars(10, 9, 11, 8, 12, 7, 99, 1)
	got, err := Closed(cs, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 11.0, got[0].High)
	assert.Equal(t, 12.0, got[1].High)
}

func TestClosedNotEnough(t *testing.T) {
	t.Parallel()

	_, err := Closed(bars(10, 9, 11, 8), 2)
	assert.Error(t, err)

	_, err = Closed(bars(10, 9), 0)
	assert.Error(t, err)
}

func TestKeyLevel(t *testing.T) {
	t.Parallel()

	cs := bars(10, 9, 11, 8, 12, 8.5)
	buy, err := KeyLevel(cs, Buy)
	require.NoError(t, err)
	sell, err := KeyLevel(cs, Sell)
	require.NoError(t, err)

	assert.Equal(t, 8.0, buy)
	assert.Equal(t, 12.0, sell)

	_, err = KeyLevel(nil, Buy)
	assert.Error(t, err)
}

func TestQuoteSides(t *testing.T) {
	t.Parallel()

	q := Quote{Bid: 1.1000, Ask: 1.1002}
	assert.Equal(t, 1.1002, q.Entry(Buy))
	assert.Equal(t, 1.1000, q.Entry(Sell))
	assert.Equal(t, 1.1000, q.Mark(Buy))
	assert.Equal(t, 1.1002, q.Mark(Sell))
	assert.True(t, q.Valid())
	assert.False(t, Quote{Bid: 2, Ask: 1}.Valid())
}

func TestTimeframeDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tf   Timeframe
		want time.Duration
		err  bool
	}{
		{M1, time.Minute, false},
		{M15, 15 * time.Minute, false},
		{H4, 4 * time.Hour, false},
		{D1, 24 * time.Hour, false},
		{"X3", 0, true},
		{"M", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.tf), func(t *testing.T) {
			t.Parallel()
			got, err := tt.tf.Duration()
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSymbolPointValue(t *testing.T) {
	t.Parallel()

	eur := Symbols["EURUSD"]
	require.NoError(t, eur.Validate())
	assert.InDelta(t, 1.0, eur.PointValuePerLot(), 1e-9)

	custom := Symbol{Name: "X", Point: 1, VolumeStep: 0.01, MinVolume: 0.01, MaxVolume: 1, ContractSize: 5, PointValue: 2}
	assert.Equal(t, 2.0, custom.PointValuePerLot())

	bad := eur
	bad.Point = 0
	assert.Error(t, bad.Validate())
}

func TestParseDirection(t *testing.T) {
	t.Parallel()

	d, err := ParseDirection("BUY")
	require.NoError(t, err)
	assert.Equal(t, Buy, d)
	assert.Equal(t, Sell, d.Opposite())
	assert.Equal(t, -1.0, Sell.Sign())

	_, err = ParseDirection("flat")
	assert.Error(t, err)
}
