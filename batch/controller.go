// Package batch turns operator intents into gateway calls: multi-leg batch
// submission, breakout submission, and the bulk close, cancel and stop
// adjustments that run both on demand and when the risk guard halts.
package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

// DefaultCloseAttempts bounds close and cancel retries.
const DefaultCloseAttempts = 3

type Config struct {
	// Symbols limits bulk operations to these symbols; empty means all.
	Symbols []string
	// Timeframe is the candle series used for key-level stops.
	Timeframe market.Timeframe
	// CloseAttempts is the number of immediate tries per close or cancel.
	CloseAttempts int
	// Timeout bounds each gateway and feed call.
	Timeout time.Duration
	// SLOffsetPoints widens breakout stops and candle key-level stops.
	SLOffsetPoints float64
	// MinStopPoints floors candle-derived stops.
	MinStopPoints float64
}

func (c Config) withDefaults() Config {
	if c.CloseAttempts <= 0 {
		c.CloseAttempts = DefaultCloseAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = broker.DefaultTimeout
	}
	if c.Timeframe == "" {
		c.Timeframe = market.M5
	}
	return c
}

// Controller is safe for concurrent use. It holds no lock across gateway
// calls; the only shared state is the registry of in-flight batches.
type Controller struct {
	gw      broker.Gateway
	feed    broker.PriceFeed
	guard   *risk.Guard
	sizer   risk.Sizer
	cfg     Config
	log     *slog.Logger
	alerter Alerter

	mu      sync.Mutex
	seq     uint64
	batches map[uint64]*inflight
}

// inflight is one running batch. Interrupting it cancels the legs that have
// not reached the gateway yet.
type inflight struct {
	cancel      context.CancelFunc
	interrupted atomic.Bool
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

func WithAlerter(a Alerter) Option { return func(c *Controller) { c.alerter = a } }

func New(gw broker.Gateway, feed broker.PriceFeed, guard *risk.Guard, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		gw:      gw,
		feed:    feed,
		guard:   guard,
		sizer:   risk.Sizer{MinStopPoints: cfg.MinStopPoints},
		cfg:     cfg,
		batches: make(map[uint64]*inflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.alerter == nil {
		c.alerter = LogAlerter{Log: c.log}
	}
	return c
}

// OnHalt is the guard's halt handler: it flattens the account. The flatten
// must outlive whatever operation tripped the halt, so it runs detached from
// ctx's cancellation.
func (c *Controller) OnHalt(ctx context.Context, ev risk.Event) {
	c.Flatten(context.WithoutCancel(ctx), string(ev.Kind)+": "+ev.Message)
}

func (c *Controller) register(ctx context.Context) (context.Context, *inflight, func()) {
	bctx, cancel := context.WithCancel(ctx)
	b := &inflight{cancel: cancel}

	c.mu.Lock()
	c.seq++
	key := c.seq
	c.batches[key] = b
	c.mu.Unlock()

	return bctx, b, func() {
		c.mu.Lock()
		delete(c.batches, key)
		c.mu.Unlock()
		cancel()
	}
}

// interruptAll cancels every in-flight batch and reports how many there were.
func (c *Controller) interruptAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.batches {
		b.interrupted.Store(true)
		b.cancel()
	}
	return len(c.batches)
}

func (c *Controller) symbolInfo(ctx context.Context, symbol string) (market.Symbol, error) {
	return broker.Call(ctx, c.cfg.Timeout, "symbol info "+symbol, func(cctx context.Context) (market.Symbol, error) {
		return c.feed.SymbolInfo(cctx, symbol)
	})
}

func (c *Controller) quote(ctx context.Context, symbol string) (market.Quote, error) {
	q, err := broker.Call(ctx, c.cfg.Timeout, "quote "+symbol, func(cctx context.Context) (market.Quote, error) {
		return c.feed.Quote(cctx, symbol)
	})
	if err == nil && !q.Valid() {
		err = errors.Join(errdefs.ErrMarketDataUnavailable, errors.New("quote "+symbol+": invalid bid/ask"))
	}
	return q, err
}

func (c *Controller) candles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	return broker.Call(ctx, c.cfg.Timeout, "candles "+symbol, func(cctx context.Context) ([]market.Candle, error) {
		return c.feed.Candles(cctx, symbol, tf, count)
	})
}

// BreakoutLevel reads the symbol's last n closed candles on the configured
// timeframe and returns the level a breakout order for dir should trigger at.
func (c *Controller) BreakoutLevel(ctx context.Context, symbol string, dir market.Direction, n int, offsetPoints float64) (float64, error) {
	sym, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	bars, err := c.candles(ctx, symbol, c.cfg.Timeframe, n+1)
	if err != nil {
		return 0, err
	}
	return breakout.TriggerPrice(dir, bars, n, offsetPoints, sym.Point)
}
