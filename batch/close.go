package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/risk"
)

// closeParallelism caps concurrent close and cancel requests.
const closeParallelism = 4

// Failure is one ticket, or one listing call, that did not go through.
type Failure struct {
	Op       string
	Ticket   broker.Ticket
	Symbol   string
	Attempts int
	Err      error
}

type CloseReport struct {
	Closed      []broker.Ticket
	Cancelled   []broker.Ticket
	Interrupted int
	Failed      []Failure
}

// Err is nil when everything went through, and wraps ErrCloseFailed otherwise.
func (r CloseReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// withRetry runs fn up to CloseAttempts times, each under the call timeout.
// Exhausting the attempts yields ErrCloseFailed wrapping the last error.
func withRetry[T any](ctx context.Context, c *Controller, op string, fn func(context.Context) (T, error)) (T, int, error) {
	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= c.cfg.CloseAttempts; attempt++ {
		v, err = broker.Call(ctx, c.cfg.Timeout, op, fn)
		if err == nil {
			return v, attempt, nil
		}
		if ctx.Err() != nil {
			return v, attempt, fmt.Errorf("%s: %w", op, errors.Join(errdefs.ErrCloseFailed, err))
		}
		c.log.Warn("attempt failed", "op", op, "attempt", attempt, "of", c.cfg.CloseAttempts, "err", err)
	}
	return v, c.cfg.CloseAttempts, fmt.Errorf("%s after %d attempts: %w", op, c.cfg.CloseAttempts, errors.Join(errdefs.ErrCloseFailed, err))
}

// CloseAll closes every open position on the tracked symbols.
func (c *Controller) CloseAll(ctx context.Context) CloseReport {
	var r CloseReport

	positions, n, err := withRetry(ctx, c, "list positions", func(cctx context.Context) ([]broker.Position, error) {
		return c.gw.OpenPositions(cctx, c.cfg.Symbols)
	})
	if err != nil {
		r.Failed = append(r.Failed, Failure{Op: "list positions", Attempts: n, Err: err})
		return r
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(closeParallelism)
	for _, p := range positions {
		p := p
		g.Go(func() error {
			op := fmt.Sprintf("close %d", p.Ticket)
			_, n, err := withRetry(ctx, c, op, func(cctx context.Context) (struct{}, error) {
				return struct{}{}, c.gw.ClosePosition(cctx, p.Ticket)
			})
			if err != nil && !c.stillOpen(ctx, p.Ticket) {
				// Stopped out or closed by hand while we were retrying.
				err = nil
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Failed = append(r.Failed, Failure{Op: "close", Ticket: p.Ticket, Symbol: p.Symbol, Attempts: n, Err: err})
				return nil
			}
			r.Closed = append(r.Closed, p.Ticket)
			return nil
		})
	}
	_ = g.Wait()

	sortTickets(r.Closed)
	c.log.Info("close all", "closed", len(r.Closed), "failed", len(r.Failed))
	return r
}

// stillOpen reports false only when the gateway positively lists the
// position as gone.
func (c *Controller) stillOpen(ctx context.Context, ticket broker.Ticket) bool {
	positions, err := broker.Call(ctx, c.cfg.Timeout, "list positions", func(cctx context.Context) ([]broker.Position, error) {
		return c.gw.OpenPositions(cctx, c.cfg.Symbols)
	})
	if err != nil {
		return true
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return true
		}
	}
	return false
}

// CancelAllPending interrupts in-flight batches, then cancels every pending
// order on the tracked symbols.
func (c *Controller) CancelAllPending(ctx context.Context) CloseReport {
	var r CloseReport
	r.Interrupted = c.interruptAll()

	orders, n, err := withRetry(ctx, c, "list pending", func(cctx context.Context) ([]broker.PendingOrder, error) {
		return c.gw.PendingOrders(cctx, c.cfg.Symbols)
	})
	if err != nil {
		r.Failed = append(r.Failed, Failure{Op: "list pending", Attempts: n, Err: err})
		return r
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(closeParallelism)
	for _, o := range orders {
		o := o
		g.Go(func() error {
			_, n, err := withRetry(ctx, c, fmt.Sprintf("cancel %d", o.Ticket), func(cctx context.Context) (struct{}, error) {
				return struct{}{}, c.gw.CancelPending(cctx, o.Ticket)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Failed = append(r.Failed, Failure{Op: "cancel", Ticket: o.Ticket, Symbol: o.Symbol, Attempts: n, Err: err})
				return nil
			}
			r.Cancelled = append(r.Cancelled, o.Ticket)
			return nil
		})
	}
	_ = g.Wait()

	sortTickets(r.Cancelled)
	c.log.Info("cancel all pending", "interrupted", r.Interrupted, "cancelled", len(r.Cancelled), "failed", len(r.Failed))
	return r
}

// Flatten cancels everything pending and closes everything open. It records
// an AUTO_CLOSE event, and a CLOSE_FAILED event plus a critical alert for
// every ticket it could not get rid of.
func (c *Controller) Flatten(ctx context.Context, reason string) CloseReport {
	r := c.CancelAllPending(ctx)
	closed := c.CloseAll(ctx)
	r.Closed = closed.Closed
	r.Failed = append(r.Failed, closed.Failed...)

	c.guard.Record(risk.AutoClose,
		fmt.Sprintf("flatten (%s): closed %d, cancelled %d, interrupted %d, failed %d",
			reason, len(r.Closed), len(r.Cancelled), r.Interrupted, len(r.Failed)),
		map[string]any{
			"reason":      reason,
			"closed":      len(r.Closed),
			"cancelled":   len(r.Cancelled),
			"interrupted": r.Interrupted,
			"failed":      len(r.Failed),
		})

	for _, f := range r.Failed {
		ev := c.guard.Record(risk.CloseFailedEvent, f.Err.Error(), map[string]any{
			"op":       f.Op,
			"ticket":   uint64(f.Ticket),
			"symbol":   f.Symbol,
			"attempts": f.Attempts,
		})
		c.alerter.Alert(ctx, Alert{
			Severity: errdefs.SeverityCritical,
			Title:    "auto-close failed, manual intervention required",
			Message:  f.Err.Error(),
			EventID:  ev.ID,
			Time:     ev.Time,
		})
	}
	return r
}
