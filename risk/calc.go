package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

// ResolveStopPoints turns a stop policy into a distance in points from the
// entry price.
//
// FixedPoints is literal. CandleKeyLevel measures from the entry (ask for
// buys, bid for sells) to the low (buys) or high (sells) of the last Lookback
// closed candles; a level on the wrong side of price would give a zero or
// negative stop, so the result is floored at floorPoints. extraPoints is added
// in both modes.
func ResolveStopPoints(p StopPolicy, sym market.Symbol, dir market.Direction, q market.Quote, candles []market.Candle, floorPoints, extraPoints float64) (float64, error) {
	if sym.Point <= 0 {
		return 0, fmt.Errorf("resolve stop %s: %w", sym.Name, errdefs.ErrInvalidSymbol)
	}
	if extraPoints < 0 {
		extraPoints = 0
	}

	switch p.Mode {
	case FixedPointsMode:
		if p.Points <= 0 {
			return 0, errdefs.NewValidation("sl_points", p.Points, "must be positive")
		}
		return p.Points + extraPoints, nil

	case CandleKeyLevelMode:
		if !q.Valid() {
			return 0, fmt.Errorf("resolve stop %s: bad quote: %w", sym.Name, errdefs.ErrMarketDataUnavailable)
		}
		closed, err := market.Closed(candles, p.Lookback)
		if err != nil {
			return 0, fmt.Errorf("resolve stop %s: %v: %w", sym.Name, err, errdefs.ErrMarketDataUnavailable)
		}
		level, err := market.KeyLevel(closed, dir)
		if err != nil {
			return 0, fmt.Errorf("resolve stop %s: %v: %w", sym.Name, err, errdefs.ErrMarketDataUnavailable)
		}
		dist := sym.Points(dir.Sign()*(q.Entry(dir)-level)) + extraPoints
		return math.Max(dist, floorPoints), nil
	}
	return 0, errdefs.NewValidation("sl_mode", p.Mode, "unknown stop-loss mode")
}

// StopPrice places a stop points away from entry on the losing side.
func StopPrice(sym market.Symbol, dir market.Direction, entry, points float64) float64 {
	return roundPrice(entry-dir.Sign()*points*sym.Point, sym.Point)
}

// TakePrice places a take-profit points away from entry on the winning side.
// Zero points means none and returns 0.
func TakePrice(sym market.Symbol, dir market.Direction, entry, points float64) float64 {
	if points <= 0 {
		return 0
	}
	return roundPrice(entry+dir.Sign()*points*sym.Point, sym.Point)
}

func roundPrice(p, point float64) float64 {
	if point <= 0 {
		return p
	}
	return math.Round(p/point) * point
}

// ImpliedLoss is the money lost if a stop points away is hit on volume lots.
func ImpliedLoss(sym market.Symbol, volume, points float64) float64 {
	return volume * points * sym.PointValuePerLot()
}
