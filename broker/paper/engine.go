// Package paper is an in-memory broker: it implements broker.PriceFeed and
// broker.Gateway against quotes and candles pushed in by the caller, fills
// market orders at the touch, fires pending stop orders and SL/TP levels, and
// keeps a deal history. It backs the CLI's dry-run mode and the tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
)

var (
	_ broker.PriceFeed = (*Engine)(nil)
	_ broker.Gateway   = (*Engine)(nil)
)

type Engine struct {
	mu           sync.Mutex
	balance      float64
	symbols      map[string]market.Symbol
	quotes       map[string]market.Quote
	candles      map[string][]market.Candle
	open         map[broker.Ticket]*position
	pending      map[broker.Ticket]*broker.PendingOrder
	pendingStops map[broker.Ticket]stops
	deals        []broker.Deal
	next         broker.Ticket
	faults       map[string][]error
	latency      time.Duration
	onClosed     func(broker.Deal)
}

func NewEngine(balance float64, symbols ...market.Symbol) *Engine {
	e := &Engine{
		balance: balance,
		symbols: make(map[string]market.Symbol),
		quotes:  make(map[string]market.Quote),
		candles: make(map[string][]market.Candle),
		open:    make(map[broker.Ticket]*position),
		pending: make(map[broker.Ticket]*broker.PendingOrder),
		faults:  make(map[string][]error),
		next:    1000,

		pendingStops: make(map[broker.Ticket]stops),
	}
	for _, s := range symbols {
		e.symbols[s.Name] = s
	}
	return e
}

// OnDealClosed registers a callback invoked, outside the engine lock, for
// every position the engine closes.
func (e *Engine) OnDealClosed(fn func(broker.Deal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClosed = fn
}

// Fail queues errors returned by the next calls of op ("submit", "close",
// "cancel", "modify", "positions", "pending", "deals", "quote", "candles").
func (e *Engine) Fail(op string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], errs...)
}

// SetLatency delays every call; calls honour context cancellation.
func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *Engine) SetCandles(symbol string, candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[symbol] = append([]market.Candle(nil), candles...)
}

// SetQuote publishes a new quote and runs pending-order and SL/TP triggers for
// the symbol.
func (e *Engine) SetQuote(q market.Quote) error {
	if !q.Valid() {
		return fmt.Errorf("set quote %s: invalid bid/ask %.5f/%.5f", q.Symbol, q.Bid, q.Ask)
	}
	if q.Time.IsZero() {
		q.Time = time.Now()
	}

	e.mu.Lock()
	e.quotes[q.Symbol] = q
	e.firePendingLocked(q)
	closed := e.fireStopsLocked(q)
	cb := e.onClosed
	e.mu.Unlock()

	if cb != nil {
		for _, d := range closed {
			cb(d)
		}
	}
	return nil
}

func (e *Engine) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	if err := e.enter(ctx, "quote"); err != nil {
		return market.Quote{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[symbol]
	if !ok {
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, errdefs.ErrMarketDataUnavailable)
	}
	return q, nil
}

func (e *Engine) Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	if err := e.enter(ctx, "candles"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := e.candles[symbol]
	if len(cs) == 0 {
		return nil, fmt.Errorf("candles %s %s: %w", symbol, tf, errdefs.ErrMarketDataUnavailable)
	}
	if count > 0 && count < len(cs) {
		cs = cs[len(cs)-count:]
	}
	return append([]market.Candle(nil), cs...), nil
}

func (e *Engine) SymbolInfo(ctx context.Context, symbol string) (market.Symbol, error) {
	if err := e.enter(ctx, "symbol"); err != nil {
		return market.Symbol{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.symbols[symbol]
	if !ok {
		return market.Symbol{}, fmt.Errorf("symbol %q: %w", symbol, errdefs.ErrInvalidSymbol)
	}
	return s, nil
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ticket, error) {
	if err := e.enter(ctx, "submit"); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sym, ok := e.symbols[req.Symbol]
	if !ok {
		return 0, fmt.Errorf("submit %s: unknown symbol: %w", req.Symbol, errdefs.ErrGatewayRejected)
	}
	if req.Volume < sym.MinVolume || req.Volume > sym.MaxVolume {
		return 0, fmt.Errorf("submit %s: volume %.2f outside [%.2f, %.2f]: %w",
			req.Symbol, req.Volume, sym.MinVolume, sym.MaxVolume, errdefs.ErrGatewayRejected)
	}
	q, ok := e.quotes[req.Symbol]
	if !ok {
		return 0, fmt.Errorf("submit %s: no price: %w", req.Symbol, errdefs.ErrGatewayRejected)
	}

	e.next++
	ticket := e.next

	if req.Type != broker.Market {
		e.pending[ticket] = &broker.PendingOrder{
			Ticket:    ticket,
			Symbol:    req.Symbol,
			Direction: req.Direction,
			Type:      req.Type,
			Volume:    req.Volume,
			Price:     req.Price,
		}
		e.pendingStops[ticket] = stops{sl: req.StopLoss, tp: req.TakeProfit, comment: req.Comment}
		return ticket, nil
	}

	entry := q.Entry(req.Direction)
	if err := checkStops(req.Direction, entry, req.StopLoss, req.TakeProfit); err != nil {
		e.next--
		return 0, fmt.Errorf("submit %s: %v: %w", req.Symbol, err, errdefs.ErrGatewayRejected)
	}
	e.open[ticket] = &position{
		Position: broker.Position{
			Ticket:    ticket,
			Symbol:    req.Symbol,
			Direction: req.Direction,
			Volume:    req.Volume,
			OpenPrice: entry,
			OpenTime:  q.Time,
		},
		comment: req.Comment,
	}
	e.open[ticket].setStops(req.StopLoss, req.TakeProfit)
	return ticket, nil
}

func (e *Engine) ClosePosition(ctx context.Context, ticket broker.Ticket) error {
	if err := e.enter(ctx, "close"); err != nil {
		return err
	}

	e.mu.Lock()
	p, ok := e.open[ticket]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("close %d: no such position: %w", ticket, errdefs.ErrGatewayRejected)
	}
	q, ok := e.quotes[p.Symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("close %d: no price for %s: %w", ticket, p.Symbol, errdefs.ErrGatewayUnavailable)
	}
	d := e.closeLocked(p, q.Mark(p.Direction), q.Time, "ManualClose")
	cb := e.onClosed
	e.mu.Unlock()

	if cb != nil {
		cb(d)
	}
	return nil
}

func (e *Engine) CancelPending(ctx context.Context, ticket broker.Ticket) error {
	if err := e.enter(ctx, "cancel"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[ticket]; !ok {
		return fmt.Errorf("cancel %d: no such order: %w", ticket, errdefs.ErrGatewayRejected)
	}
	delete(e.pending, ticket)
	delete(e.pendingStops, ticket)
	return nil
}

func (e *Engine) ModifyStops(ctx context.Context, ticket broker.Ticket, sl, tp *float64) error {
	if err := e.enter(ctx, "modify"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.open[ticket]
	if !ok {
		return fmt.Errorf("modify %d: no such position: %w", ticket, errdefs.ErrGatewayRejected)
	}
	if q, ok := e.quotes[p.Symbol]; ok {
		if err := checkStops(p.Direction, q.Mark(p.Direction), sl, nil); err != nil {
			return fmt.Errorf("modify %d: %v: %w", ticket, err, errdefs.ErrGatewayRejected)
		}
	}
	if sl != nil {
		p.StopLoss = *sl
	}
	if tp != nil {
		p.TakeProfit = *tp
	}
	return nil
}

func (e *Engine) OpenPositions(ctx context.Context, symbols []string) ([]broker.Position, error) {
	if err := e.enter(ctx, "positions"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	want := symbolSet(symbols)
	out := make([]broker.Position, 0, len(e.open))
	for _, p := range e.open {
		if want != nil && !want[p.Symbol] {
			continue
		}
		pos := p.Position
		if q, ok := e.quotes[p.Symbol]; ok {
			pos.Profit = e.profitLocked(p.Position, q.Mark(p.Direction))
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (e *Engine) PendingOrders(ctx context.Context, symbols []string) ([]broker.PendingOrder, error) {
	if err := e.enter(ctx, "pending"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	want := symbolSet(symbols)
	out := make([]broker.PendingOrder, 0, len(e.pending))
	for _, o := range e.pending {
		if want != nil && !want[o.Symbol] {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (e *Engine) ClosedDeals(ctx context.Context, since time.Time) ([]broker.Deal, error) {
	if err := e.enter(ctx, "deals"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.Deal, 0, len(e.deals))
	for _, d := range e.deals {
		if d.CloseTime.Before(since) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// InjectDeal appends a closed deal to the history as if it had been closed
// outside this process (for example from the terminal by hand).
func (e *Engine) InjectDeal(d broker.Deal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance += d.Profit
	e.deals = append(e.deals, d)
}

// enter applies latency and queued faults for op.
func (e *Engine) enter(ctx context.Context, op string) error {
	e.mu.Lock()
	delay := e.latency
	var fault error
	if q := e.faults[op]; len(q) > 0 {
		fault, e.faults[op] = q[0], q[1:]
	}
	e.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fault
}

func symbolSet(symbols []string) map[string]bool {
	if len(symbols) == 0 {
		return nil
	}
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[strings.TrimSpace(s)] = true
	}
	return m
}
