package batch

import (
	"context"
	"fmt"
	"sort"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

type ModifyReport struct {
	Modified []broker.Ticket
	Skipped  []broker.Ticket
	Failed   []Failure
}

// BreakevenAll moves each open position's stop to its open price, offset by
// offsetPoints on the losing side, wherever that tightens the current stop.
func (c *Controller) BreakevenAll(ctx context.Context, offsetPoints float64) (ModifyReport, error) {
	var r ModifyReport

	positions, err := c.positions(ctx)
	if err != nil {
		return r, err
	}

	syms := make(map[string]market.Symbol)
	for _, p := range positions {
		sym, ok := syms[p.Symbol]
		if !ok {
			if sym, err = c.symbolInfo(ctx, p.Symbol); err != nil {
				r.Failed = append(r.Failed, Failure{Op: "modify", Ticket: p.Ticket, Symbol: p.Symbol, Attempts: 0, Err: err})
				continue
			}
			syms[p.Symbol] = sym
		}

		stop, tightens := risk.BreakevenStop(p, sym, offsetPoints)
		if !tightens {
			r.Skipped = append(r.Skipped, p.Ticket)
			continue
		}
		c.modify(ctx, &r, p, stop)
	}

	c.log.Info("breakeven all", "offset_points", offsetPoints,
		"modified", len(r.Modified), "skipped", len(r.Skipped), "failed", len(r.Failed))
	return r, nil
}

// MoveStopsToCandle moves the stops of the n oldest positions to the previous
// closed candle's low (longs) or high (shorts) on timeframe tf.
func (c *Controller) MoveStopsToCandle(ctx context.Context, n int, tf market.Timeframe) (ModifyReport, error) {
	var r ModifyReport
	if n <= 0 {
		return r, errdefs.NewValidation("n", n, "must be positive")
	}
	if tf == "" {
		tf = c.cfg.Timeframe
	}

	positions, err := c.positions(ctx)
	if err != nil {
		return r, err
	}
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].OpenTime.Before(positions[j].OpenTime) })
	if len(positions) > n {
		positions = positions[:n]
	}

	prev := make(map[string]market.Candle)
	for _, p := range positions {
		candle, ok := prev[p.Symbol]
		if !ok {
			series, err := c.candles(ctx, p.Symbol, tf, 2)
			if err == nil {
				var closed []market.Candle
				if closed, err = market.Closed(series, 1); err == nil {
					candle = closed[0]
					prev[p.Symbol] = candle
				} else {
					err = fmt.Errorf("%v: %w", err, errdefs.ErrMarketDataUnavailable)
				}
			}
			if err != nil {
				r.Failed = append(r.Failed, Failure{Op: "modify", Ticket: p.Ticket, Symbol: p.Symbol, Err: err})
				continue
			}
		}

		level, _ := market.KeyLevel([]market.Candle{candle}, p.Direction)
		c.modify(ctx, &r, p, level)
	}

	c.log.Info("move stops to candle", "n", n, "timeframe", tf,
		"modified", len(r.Modified), "failed", len(r.Failed))
	return r, nil
}

func (c *Controller) modify(ctx context.Context, r *ModifyReport, p broker.Position, stop float64) {
	err := broker.Do(ctx, c.cfg.Timeout, fmt.Sprintf("modify %d", p.Ticket), func(cctx context.Context) error {
		return c.gw.ModifyStops(cctx, p.Ticket, &stop, nil)
	})
	if err != nil {
		r.Failed = append(r.Failed, Failure{Op: "modify", Ticket: p.Ticket, Symbol: p.Symbol, Attempts: 1, Err: err})
		return
	}
	r.Modified = append(r.Modified, p.Ticket)
}

func (c *Controller) positions(ctx context.Context) ([]broker.Position, error) {
	return broker.Call(ctx, c.cfg.Timeout, "list positions", func(cctx context.Context) ([]broker.Position, error) {
		return c.gw.OpenPositions(cctx, c.cfg.Symbols)
	})
}

func sortTickets(ts []broker.Ticket) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
