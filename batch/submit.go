package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

type Status string

const (
	Submitted Status = "SUBMITTED"
	Rejected  Status = "REJECTED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
)

// LegResult is the outcome of one leg. Legs fail independently.
type LegResult struct {
	Slot   int
	Status Status
	Ticket broker.Ticket
	Plan   risk.Plan
	Err    error
}

func (r LegResult) with(err error) LegResult {
	r.Err = err
	r.Status = statusOf(err)
	return r
}

// statusOf maps an error onto a leg status. Rejections are final for this
// request; failures are transient and may succeed if retried by the operator.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return Submitted
	case errors.Is(err, errdefs.ErrCancelled):
		return Cancelled
	case errors.Is(err, errdefs.ErrRiskHalted),
		errors.Is(err, errdefs.ErrGatewayRejected),
		errors.Is(err, errdefs.ErrInvalidStop),
		errors.Is(err, errdefs.ErrInvalidSymbol),
		errors.Is(err, errdefs.ErrVolumeOutOfRange),
		errdefs.IsValidation(err):
		return Rejected
	default:
		return Failed
	}
}

// view is the market snapshot every leg of one submission is sized against.
type view struct {
	sym     market.Symbol
	quote   market.Quote
	candles []market.Candle

	// exposure holds the open positions on sym in the submission's direction.
	// When it is non-empty every leg is sized to break the whole position even
	// at its own stop, spread over count legs.
	exposure []broker.Position
	count    int
}

// SubmitBatch sizes and sends the enabled legs as market orders on symbol.
// Legs run concurrently; each reserves a trade slot with the guard before it
// touches the gateway, so a halted guard rejects them without gateway contact.
func (c *Controller) SubmitBatch(ctx context.Context, legs []risk.Leg, symbol string, dir market.Direction) []LegResult {
	var active []risk.Leg
	for _, l := range legs {
		if l.Enabled {
			active = append(active, l)
		}
	}
	if len(active) == 0 {
		return nil
	}

	results := make([]LegResult, len(active))
	for i, l := range active {
		results[i].Slot = l.Slot
	}
	failAll := func(err error) []LegResult {
		for i := range results {
			results[i] = results[i].with(err)
		}
		c.logResults("batch", symbol, dir, results)
		return results
	}

	if !dir.Valid() {
		return failAll(errdefs.NewValidation("direction", dir, "must be buy or sell"))
	}
	if len(active) > risk.MaxLegs {
		return failAll(errdefs.NewValidation("legs", len(active), fmt.Sprintf("at most %d enabled legs", risk.MaxLegs)))
	}
	if !c.guard.CanTrade() {
		return failAll(fmt.Errorf("batch %s: %s: %w", symbol, c.guard.Snapshot().HaltReason, errdefs.ErrRiskHalted))
	}

	v, err := c.view(ctx, symbol, maxLookback(active))
	if err != nil {
		return failAll(err)
	}
	if v.exposure, err = c.exposure(ctx, symbol, dir); err != nil {
		return failAll(err)
	}
	v.count = len(active)

	bctx, b, done := c.register(ctx)
	defer done()

	var g errgroup.Group
	for i, leg := range active {
		i, leg := i, leg
		extra := 0.0
		if leg.Stop.Mode == risk.CandleKeyLevelMode {
			extra = c.cfg.SLOffsetPoints
		}
		if leg.Comment == "" {
			leg.Comment = fmt.Sprintf("batch%d", leg.Slot)
		}
		g.Go(func() error {
			results[i] = c.runLeg(bctx, b, leg, v, dir, extra)
			return nil
		})
	}
	_ = g.Wait()

	c.logResults("batch", symbol, dir, results)
	return results
}

// SubmitBreakout sends a triggered breakout's leg as a single market order.
// The stop is always widened by the breakout SL offset.
func (c *Controller) SubmitBreakout(ctx context.Context, t breakout.Trigger) LegResult {
	leg := t.Order.Leg
	res := LegResult{Slot: leg.Slot}

	if !c.guard.CanTrade() {
		return res.with(fmt.Errorf("breakout %s: %w", t.Order.ID, errdefs.ErrRiskHalted))
	}

	lookback := 0
	if leg.Stop.Mode == risk.CandleKeyLevelMode {
		lookback = leg.Stop.Lookback
	}
	v, err := c.view(ctx, t.Order.Symbol, lookback)
	if err != nil {
		return res.with(err)
	}
	// The quote that crossed the level is the one to size against.
	if t.Quote.Valid() {
		v.quote = t.Quote
	}
	if v.exposure, err = c.exposure(ctx, t.Order.Symbol, t.Order.Direction); err != nil {
		return res.with(err)
	}
	v.count = 1
	if leg.Comment == "" {
		leg.Comment = "breakout " + t.Order.Direction.String()
	}

	bctx, b, done := c.register(ctx)
	defer done()

	res = c.runLeg(bctx, b, leg, v, t.Order.Direction, c.cfg.SLOffsetPoints)
	c.logResults("breakout", t.Order.Symbol, t.Order.Direction, []LegResult{res})
	return res
}

func (c *Controller) runLeg(ctx context.Context, b *inflight, leg risk.Leg, v view, dir market.Direction, extra float64) LegResult {
	res := LegResult{Slot: leg.Slot}

	plan, err := c.sizer.Plan(leg, v.sym, dir, v.quote, v.candles, extra)
	if err != nil {
		return res.with(err)
	}
	if len(v.exposure) > 0 {
		vol, err := risk.BreakevenVolume(v.exposure, v.sym, dir, plan.StopLoss, plan.Entry, v.count)
		if err != nil {
			res.Plan = plan
			return res.with(fmt.Errorf("leg %d: %w", leg.Slot, err))
		}
		plan.Volume = vol
		plan.ImpliedLoss = risk.ImpliedLoss(v.sym, vol, plan.StopPoints)
		plan.OverRisk = false
	}
	res.Plan = plan
	if plan.OverRisk {
		c.log.Warn("leg exceeds fixed loss after rounding",
			"slot", leg.Slot, "fixed_loss", leg.FixedLoss, "implied_loss", plan.ImpliedLoss, "volume", plan.Volume)
	}

	resv, err := c.guard.Reserve()
	if err != nil {
		return res.with(fmt.Errorf("leg %d: %w", leg.Slot, err))
	}
	if ctx.Err() != nil {
		resv.Release()
		return res.with(fmt.Errorf("leg %d: %w", leg.Slot, errdefs.ErrCancelled))
	}

	req := broker.OrderRequest{
		Symbol:    plan.Symbol,
		Direction: dir,
		Type:      broker.Market,
		Volume:    plan.Volume,
		StopLoss:  &plan.StopLoss,
		Comment:   leg.Comment,
	}
	if plan.TakeProfit > 0 {
		req.TakeProfit = &plan.TakeProfit
	}

	ticket, err := broker.Call(ctx, c.cfg.Timeout, "submit", func(cctx context.Context) (broker.Ticket, error) {
		return c.gw.SubmitOrder(cctx, req)
	})
	if err != nil {
		resv.Release()
		return res.with(fmt.Errorf("leg %d: %w", leg.Slot, err))
	}
	resv.Commit(ctx, ticket)
	res.Ticket = ticket
	res.Status = Submitted

	if b.interrupted.Load() {
		// The order reached the broker after the batch was interrupted.
		c.unwind(context.WithoutCancel(ctx), ticket)
		return res.with(fmt.Errorf("leg %d: ticket %d closed after interrupt: %w", leg.Slot, ticket, errdefs.ErrCancelled))
	}
	return res
}

func (c *Controller) unwind(ctx context.Context, ticket broker.Ticket) {
	_, _, err := withRetry(ctx, c, fmt.Sprintf("close %d", ticket), func(cctx context.Context) (struct{}, error) {
		return struct{}{}, c.gw.ClosePosition(cctx, ticket)
	})
	if err != nil && c.stillOpen(ctx, ticket) {
		c.log.Error("could not unwind interrupted leg", "ticket", ticket, "err", err)
	}
}

func (c *Controller) view(ctx context.Context, symbol string, lookback int) (view, error) {
	var v view
	var err error
	if v.sym, err = c.symbolInfo(ctx, symbol); err != nil {
		return v, err
	}
	if v.quote, err = c.quote(ctx, symbol); err != nil {
		return v, err
	}
	if lookback > 0 {
		// One extra for the forming bar.
		if v.candles, err = c.candles(ctx, symbol, c.cfg.Timeframe, lookback+1); err != nil {
			return v, err
		}
	}
	return v, nil
}

// exposure returns the open positions on symbol in direction dir.
func (c *Controller) exposure(ctx context.Context, symbol string, dir market.Direction) ([]broker.Position, error) {
	ps, err := broker.Call(ctx, c.cfg.Timeout, "positions "+symbol, func(cctx context.Context) ([]broker.Position, error) {
		return c.gw.OpenPositions(cctx, []string{symbol})
	})
	if err != nil {
		return nil, err
	}
	var out []broker.Position
	for _, p := range ps {
		if p.Symbol == symbol && p.Direction == dir {
			out = append(out, p)
		}
	}
	return out, nil
}

func maxLookback(legs []risk.Leg) int {
	n := 0
	for _, l := range legs {
		if l.Stop.Mode == risk.CandleKeyLevelMode && l.Stop.Lookback > n {
			n = l.Stop.Lookback
		}
	}
	return n
}

func (c *Controller) logResults(kind, symbol string, dir market.Direction, results []LegResult) {
	for _, r := range results {
		switch r.Status {
		case Submitted:
			c.log.Info("leg submitted", "kind", kind, "symbol", symbol, "dir", dir, "slot", r.Slot,
				"ticket", r.Ticket, "volume", r.Plan.Volume, "sl", r.Plan.StopLoss, "tp", r.Plan.TakeProfit)
		default:
			c.log.Log(context.Background(), alertLevel(errdefs.Classify(r.Err)), "leg not submitted",
				"kind", kind, "symbol", symbol, "dir", dir, "slot", r.Slot, "status", r.Status, "err", r.Err)
		}
	}
}
