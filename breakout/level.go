package breakout

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

// TriggerPrice computes a breakout level from the last n closed candles of a
// feed series (the forming bar is dropped): the highest high plus offset for
// buys, the lowest low minus offset for sells.
func TriggerPrice(dir market.Direction, candles []market.Candle, n int, offsetPoints, point float64) (float64, error) {
	if point <= 0 {
		return 0, fmt.Errorf("trigger price: point %v: %w", point, errdefs.ErrInvalidSymbol)
	}
	closed, err := market.Closed(candles, n)
	if err != nil {
		return 0, fmt.Errorf("trigger price: %v: %w", err, errdefs.ErrMarketDataUnavailable)
	}
	high, low, err := market.Extremes(closed)
	if err != nil {
		return 0, fmt.Errorf("trigger price: %v: %w", err, errdefs.ErrMarketDataUnavailable)
	}
	if dir == market.Buy {
		return high + offsetPoints*point, nil
	}
	return low - offsetPoints*point, nil
}
