package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

// BreakevenVolume sizes each of count new legs entered at entry so that, with
// the existing same-direction exposure on sym, the whole position closes flat
// if stop is hit:
//
//	v = -((stop - avgEntry) * totalVolume) / (count * (stop - entry))
//
// Only positions matching sym and dir are considered.
func BreakevenVolume(positions []broker.Position, sym market.Symbol, dir market.Direction, stop, entry float64, count int) (float64, error) {
	if count <= 0 {
		return 0, errdefs.NewValidation("count", count, "must be positive")
	}
	var total, weighted float64
	for _, p := range positions {
		if p.Symbol != sym.Name || p.Direction != dir {
			continue
		}
		total += p.Volume
		weighted += p.OpenPrice * p.Volume
	}
	if total <= 0 {
		return 0, fmt.Errorf("breakeven %s %s: no open exposure: %w", sym.Name, dir, errdefs.ErrVolumeOutOfRange)
	}
	avg := weighted / total

	den := float64(count) * (stop - entry)
	if math.Abs(den) < eps {
		return 0, fmt.Errorf("breakeven %s: stop %.5f equals entry: %w", sym.Name, stop, errdefs.ErrInvalidStop)
	}
	v := -((stop - avg) * total) / den
	return NormalizeVolume(v, sym)
}

// BreakevenStop is the stop that sits offsetPoints behind the open price, and
// whether it tightens the position's current stop. Positions without a stop
// always tighten.
func BreakevenStop(p broker.Position, sym market.Symbol, offsetPoints float64) (float64, bool) {
	stop := roundPrice(p.OpenPrice-p.Direction.Sign()*offsetPoints*sym.Point, sym.Point)
	if p.StopLoss <= 0 {
		return stop, true
	}
	if p.Direction == market.Buy {
		return stop, stop > p.StopLoss
	}
	return stop, stop < p.StopLoss
}
