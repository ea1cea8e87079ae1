package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

const eps = 1e-9

// Plan is a leg resolved against the current market: what will be sent to the
// gateway.
type Plan struct {
	Slot       int
	Symbol     string
	Direction  market.Direction
	Entry      float64
	Volume     float64
	StopLoss   float64
	TakeProfit float64 // 0 when the leg has none
	StopPoints float64

	// ImpliedLoss is the money lost if StopLoss is hit.
	ImpliedLoss float64
	// OverRisk is set when fixed-loss rounding pushed ImpliedLoss more than one
	// volume step above the leg's amount. The plan is still tradable.
	OverRisk bool
}

// Size computes volume, stop and take for a leg given the entry price and an
// already resolved stop distance in points. It has no side effects.
func Size(leg Leg, sym market.Symbol, dir market.Direction, entry, stopPoints float64) (Plan, error) {
	if err := sym.Validate(); err != nil {
		return Plan{}, fmt.Errorf("size leg %d: %v: %w", leg.Slot, err, errdefs.ErrInvalidSymbol)
	}
	if err := leg.Validate(); err != nil {
		return Plan{}, fmt.Errorf("size leg %d: %w", leg.Slot, err)
	}
	if !dir.Valid() {
		return Plan{}, fmt.Errorf("size leg %d: %w", leg.Slot, errdefs.NewValidation("direction", dir, "must be buy or sell"))
	}
	if entry <= 0 {
		return Plan{}, fmt.Errorf("size leg %d: entry %.5f: %w", leg.Slot, entry, errdefs.ErrMarketDataUnavailable)
	}
	if stopPoints <= 0 || stopPoints <= sym.StopsLevel {
		return Plan{}, fmt.Errorf("size leg %d: stop %.1f points, broker minimum %.1f: %w",
			leg.Slot, stopPoints, sym.StopsLevel, errdefs.ErrInvalidStop)
	}

	stop := StopPrice(sym, dir, entry, stopPoints)
	if stop <= 0 {
		return Plan{}, fmt.Errorf("size leg %d: stop price %.5f: %w", leg.Slot, stop, errdefs.ErrInvalidStop)
	}

	raw := leg.Volume
	if leg.Sizing == FixedLoss {
		raw = leg.FixedLoss / (stopPoints * sym.PointValuePerLot())
	}

	volume, err := NormalizeVolume(raw, sym)
	if err != nil {
		return Plan{}, fmt.Errorf("size leg %d: %w", leg.Slot, err)
	}

	plan := Plan{
		Slot:        leg.Slot,
		Symbol:      sym.Name,
		Direction:   dir,
		Entry:       entry,
		Volume:      volume,
		StopLoss:    stop,
		TakeProfit:  TakePrice(sym, dir, entry, leg.TakeProfitPoints),
		StopPoints:  stopPoints,
		ImpliedLoss: ImpliedLoss(sym, volume, stopPoints),
	}
	if leg.Sizing == FixedLoss {
		tolerance := ImpliedLoss(sym, sym.VolumeStep, stopPoints)
		plan.OverRisk = plan.ImpliedLoss > leg.FixedLoss+tolerance+eps
	}
	return plan, nil
}

// NormalizeVolume clamps v to the symbol's volume range and rounds it to the
// nearest volume step. A value that rounds to zero is out of range.
func NormalizeVolume(v float64, sym market.Symbol) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("volume %v: %w", v, errdefs.ErrVolumeOutOfRange)
	}

	step := sym.VolumeStep
	clamped := math.Max(sym.MinVolume, math.Min(sym.MaxVolume, v))

	steps := math.Round(clamped / step)
	if steps <= 0 {
		return 0, fmt.Errorf("volume %v rounds to zero at step %v: %w", v, step, errdefs.ErrVolumeOutOfRange)
	}
	n := steps * step
	if n < sym.MinVolume-eps {
		n = math.Ceil(sym.MinVolume/step-eps) * step
	}
	if n > sym.MaxVolume+eps {
		n = math.Floor(sym.MaxVolume/step+eps) * step
	}
	if n < sym.MinVolume-eps || n > sym.MaxVolume+eps || n <= 0 {
		return 0, fmt.Errorf("volume %v outside [%v, %v]: %w", v, sym.MinVolume, sym.MaxVolume, errdefs.ErrVolumeOutOfRange)
	}
	return roundStep(n, step), nil
}

// roundStep strips float noise so 3*0.01 comes back as 0.03.
func roundStep(v, step float64) float64 {
	scale := 1.0
	for i := 0; i < 8 && math.Abs(step*scale-math.Round(step*scale)) > eps; i++ {
		scale *= 10
	}
	return math.Round(v*scale) / scale
}

// Sizer bundles the market-dependent half of sizing: stop resolution with a
// minimum-distance floor, followed by Size.
type Sizer struct {
	// MinStopPoints floors candle-derived stops.
	MinStopPoints float64
}

// Plan resolves leg's stop against q and candles, then sizes it at the
// direction's entry price. extraPoints widens the stop (breakout SL offset).
func (s Sizer) Plan(leg Leg, sym market.Symbol, dir market.Direction, q market.Quote, candles []market.Candle, extraPoints float64) (Plan, error) {
	floor := math.Max(s.MinStopPoints, sym.StopsLevel+1)
	points, err := ResolveStopPoints(leg.Stop, sym, dir, q, candles, floor, extraPoints)
	if err != nil {
		return Plan{}, fmt.Errorf("leg %d: %w", leg.Slot, err)
	}
	return Size(leg, sym, dir, q.Entry(dir), points)
}
