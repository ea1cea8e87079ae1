// Package engine runs the periodic risk control loop: it rolls the trading
// day, refreshes P&L from the gateway, evaluates armed breakouts and
// publishes metrics. Decisions live in risk, breakout and batch.
package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rustyeddy/tradeguard/batch"
	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/metrics"
	"github.com/rustyeddy/tradeguard/risk"
)

const DefaultInterval = time.Second

type Config struct {
	Symbols  []string
	Interval time.Duration
	// Timeout bounds every gateway and feed call made by a step.
	Timeout time.Duration
}

type Loop struct {
	cfg     Config
	feed    broker.PriceFeed
	gw      broker.Gateway
	guard   *risk.Guard
	watcher *breakout.Watcher
	ctl     *batch.Controller
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Loop)

func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(lp *Loop) { lp.metrics = m } }

func WithClock(now func() time.Time) Option { return func(lp *Loop) { lp.now = now } }

func New(cfg Config, feed broker.PriceFeed, gw broker.Gateway, guard *risk.Guard, w *breakout.Watcher, ctl *batch.Controller, opts ...Option) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = broker.DefaultTimeout
	}
	l := &Loop{
		cfg:     cfg,
		feed:    feed,
		gw:      gw,
		guard:   guard,
		watcher: w,
		ctl:     ctl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Report summarises one step.
type Report struct {
	Rolled     bool
	Quotes     int
	Skipped    []string
	PnLUpdated bool
	Triggered  int
	Submitted  int
	Disarmed   int
	Halted     bool
}

// Run steps every interval until ctx is done. A failing step never stops
// the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("control loop started", "interval", l.cfg.Interval, "symbols", l.cfg.Symbols)
	t := time.NewTicker(l.cfg.Interval)
	defer t.Stop()

	for {
		l.Step(ctx, l.now())
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped")
			return nil
		case <-t.C:
		}
	}
}

func (l *Loop) Step(ctx context.Context, now time.Time) Report {
	start := time.Now()
	var r Report

	r.Rolled = l.guard.Roll(now)

	quotes := make([]market.Quote, 0, len(l.cfg.Symbols))
	for _, sym := range l.cfg.Symbols {
		q, err := broker.Call(ctx, l.cfg.Timeout, "quote "+sym, func(cctx context.Context) (market.Quote, error) {
			return l.feed.Quote(cctx, sym)
		})
		if err != nil || !q.Valid() {
			l.log.Warn("quote unavailable, skipping symbol", "symbol", sym, "err", err)
			l.metrics.QuoteFailed(sym)
			r.Skipped = append(r.Skipped, sym)
			continue
		}
		quotes = append(quotes, q)
	}
	r.Quotes = len(quotes)

	r.PnLUpdated = l.refreshPnL(ctx)

	if l.guard.CanTrade() {
		for _, q := range quotes {
			for _, trig := range l.watcher.Tick(q) {
				r.Triggered++
				res := l.ctl.SubmitBreakout(ctx, trig)
				l.metrics.Leg("breakout", string(res.Status))
				if res.Status == batch.Submitted {
					r.Submitted++
				}
			}
		}
	} else {
		r.Halted = true
		r.Disarmed = len(l.watcher.CancelAll())
	}

	l.metrics.ObserveGuard(l.guard.Snapshot())
	l.metrics.ObserveArmed(len(l.watcher.Armed()))
	l.metrics.ObserveStep(time.Since(start))
	return r
}

// refreshPnL feeds deals and positions to the guard together. Both reads
// must succeed, or a just-closed position would count twice.
func (l *Loop) refreshPnL(ctx context.Context) bool {
	since := l.guard.Snapshot().Window.Start

	positions, err := broker.Call(ctx, l.cfg.Timeout, "open positions", func(cctx context.Context) ([]broker.Position, error) {
		return l.gw.OpenPositions(cctx, l.cfg.Symbols)
	})
	if err != nil {
		l.log.Warn("positions unavailable, keeping prior P&L", "err", err)
		l.metrics.PnLSkipped()
		return false
	}
	deals, err := broker.Call(ctx, l.cfg.Timeout, "closed deals", func(cctx context.Context) ([]broker.Deal, error) {
		return l.gw.ClosedDeals(cctx, since)
	})
	if err != nil {
		l.log.Warn("deal history unavailable, keeping prior P&L", "err", err)
		l.metrics.PnLSkipped()
		return false
	}

	if n := l.guard.Update(ctx, deals, positions); n > 0 {
		l.log.Debug("deals added", "new", n)
	}
	return true
}
