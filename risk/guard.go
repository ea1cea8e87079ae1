package risk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/pkg/id"
)

type State int

const (
	Active State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "HALTED"
	}
	return "ACTIVE"
}

// Snapshot is a consistent read of the guard's state.
type Snapshot struct {
	State      State
	Realized   float64
	Floating   float64
	TradeCount int
	InFlight   int
	HaltKind   EventKind
	HaltReason string
	Window     Window
	Limits     Limits
}

func (s Snapshot) Total() float64 { return s.Realized + s.Floating }

// HaltHandler runs once per halt episode, synchronously, after the guard has
// released its lock. The batch controller's flatten is the usual handler.
type HaltHandler func(ctx context.Context, ev Event)

type Option func(*Guard)

func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }

func WithRecorder(r Recorder) Option { return func(g *Guard) { g.rec = r } }

func WithLogger(l *slog.Logger) Option { return func(g *Guard) { g.log = l } }

func WithHaltHandler(h HaltHandler) Option { return func(g *Guard) { g.onHalt = h } }

// Guard owns the day's risk state: realized and floating P&L, the accepted
// trade count and the ACTIVE/HALTED switch. Every mutation re-checks the
// limits; the only way back to ACTIVE is a new trading-day window.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	staged *Limits

	window   Window
	state    State
	realized decimal.Decimal
	floating float64
	trades   int
	inFlight int
	haltKind EventKind
	reason   string
	seen     map[string]struct{}
	events   []Event

	now    func() time.Time
	rec    Recorder
	log    *slog.Logger
	onHalt HaltHandler
}

func NewGuard(l Limits, opts ...Option) (*Guard, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("new guard: %w", err)
	}
	g := &Guard{
		limits:   l,
		realized: decimal.Zero,
		seen:     make(map[string]struct{}),
		now:      time.Now,
		rec:      nopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g.window = WindowAt(g.now(), l.ResetHour, l.location())
	return g, nil
}

// SetHaltHandler wires the handler after construction, for callers whose
// handler itself depends on the guard.
func (g *Guard) SetHaltHandler(h HaltHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHalt = h
}

// CanTrade is true iff the guard is ACTIVE.
func (g *Guard) CanTrade() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == Active
}

func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		State:      g.state,
		Realized:   g.realized.InexactFloat64(),
		Floating:   g.floating,
		TradeCount: g.trades,
		InFlight:   g.inFlight,
		HaltKind:   g.haltKind,
		HaltReason: g.reason,
		Window:     g.window,
		Limits:     g.limits,
	}
}

// Events returns a copy of the risk log.
func (g *Guard) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Event(nil), g.events...)
}

// Reservation holds one trade slot between the pre-submit check and the
// gateway's answer.
type Reservation struct {
	g    *Guard
	done bool
}

// Reserve claims a trade slot. It fails with ErrRiskHalted when halted, or
// when accepted plus in-flight trades already reach the trade limit.
func (g *Guard) Reserve() (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Halted {
		return nil, fmt.Errorf("%s: %w", g.reason, errdefs.ErrRiskHalted)
	}
	if l := g.limits.DailyTradeLimit; l > 0 && g.trades+g.inFlight >= l {
		return nil, fmt.Errorf("trade limit %d reached with %d in flight: %w", l, g.inFlight, errdefs.ErrRiskHalted)
	}
	g.inFlight++
	return &Reservation{g: g}, nil
}

// Commit counts the reserved slot as an accepted trade for ticket, journals
// it and re-checks limits. Repeated calls are no-ops.
func (r *Reservation) Commit(ctx context.Context, ticket broker.Ticket) {
	g := r.g
	g.mu.Lock()
	if r.done {
		g.mu.Unlock()
		return
	}
	r.done = true
	g.inFlight--
	g.trades++
	now := g.now()
	trade := Event{
		ID:      id.NewAt(now),
		Time:    now,
		Day:     g.window.Day(),
		Kind:    TradeAccepted,
		Message: fmt.Sprintf("ticket %d accepted, trade %d", ticket, g.trades),
		Payload: map[string]any{"ticket": int64(ticket), "trades": g.trades},
	}
	ev, h, halted := g.evaluateLocked()
	g.mu.Unlock()

	g.rec.RecordEvent(trade)
	if halted {
		g.afterHalt(ctx, ev, h)
	}
}

// Release gives the slot back without counting a trade.
func (r *Reservation) Release() {
	g := r.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	g.inFlight--
}

// AddDeals folds closed deals into realized P&L. Deals are counted once by ID
// and only when they closed inside the current window. It returns how many
// deals were new.
func (g *Guard) AddDeals(ctx context.Context, deals []broker.Deal) int {
	g.mu.Lock()
	fresh := g.addDealsLocked(deals)
	ev, h, halted := g.evaluateLocked()
	g.mu.Unlock()

	g.afterUpdate(ctx, fresh, ev, h, halted)
	return len(fresh)
}

// SetPositions recomputes floating P&L from scratch as the plain sum of every
// open position's profit.
func (g *Guard) SetPositions(ctx context.Context, positions []broker.Position) {
	floating := sumProfit(positions)

	g.mu.Lock()
	g.floating = floating
	ev, h, halted := g.evaluateLocked()
	g.mu.Unlock()

	g.afterUpdate(ctx, nil, ev, h, halted)
}

// Update applies a deal history read and a positions read taken together,
// checking limits once. A position that closed between two polls moves from
// floating to realized without being counted twice.
func (g *Guard) Update(ctx context.Context, deals []broker.Deal, positions []broker.Position) int {
	floating := sumProfit(positions)

	g.mu.Lock()
	fresh := g.addDealsLocked(deals)
	g.floating = floating
	ev, h, halted := g.evaluateLocked()
	g.mu.Unlock()

	g.afterUpdate(ctx, fresh, ev, h, halted)
	return len(fresh)
}

func (g *Guard) addDealsLocked(deals []broker.Deal) []broker.Deal {
	var fresh []broker.Deal
	for _, d := range deals {
		if d.ID == "" || d.CloseTime.Before(g.window.Start) {
			continue
		}
		if _, ok := g.seen[d.ID]; ok {
			continue
		}
		g.seen[d.ID] = struct{}{}
		g.realized = g.realized.Add(decimal.NewFromFloat(d.Profit))
		fresh = append(fresh, d)
	}
	return fresh
}

func (g *Guard) afterUpdate(ctx context.Context, fresh []broker.Deal, ev Event, h HaltHandler, halted bool) {
	for _, d := range fresh {
		g.rec.RecordDeal(d)
	}
	if halted {
		g.afterHalt(ctx, ev, h)
	}
}

func sumProfit(positions []broker.Position) float64 {
	var sum float64
	for _, p := range positions {
		sum += p.Profit
	}
	return sum
}

// Halt is the operator's manual override. It is a no-op when already halted.
func (g *Guard) Halt(ctx context.Context, reason string) bool {
	if reason == "" {
		reason = "manual halt"
	}
	g.mu.Lock()
	if g.state == Halted {
		g.mu.Unlock()
		return false
	}
	ev := g.haltLocked(ManualOverride, reason, map[string]any{
		"realized": g.realized.InexactFloat64(),
		"floating": g.floating,
		"trades":   g.trades,
	})
	h := g.onHalt
	g.mu.Unlock()

	g.afterHalt(ctx, ev, h)
	return true
}

// Roll starts a new trading day once now reaches the current window's end:
// realized P&L, trade count and halt reason reset and the guard is ACTIVE
// again. A staged config snapshot takes effect here. It reports whether a
// new window began.
func (g *Guard) Roll(now time.Time) bool {
	g.mu.Lock()
	if now.Before(g.window.End) {
		g.mu.Unlock()
		return false
	}
	if g.staged != nil {
		g.limits = *g.staged
		g.staged = nil
	}

	prev := g.window
	payload := map[string]any{
		"prev_day":      prev.Day(),
		"prev_realized": g.realized.InexactFloat64(),
		"prev_trades":   g.trades,
		"prev_state":    g.state.String(),
	}

	g.window = WindowAt(now, g.limits.ResetHour, g.limits.location())
	g.state = Active
	g.realized = decimal.Zero
	g.trades = 0
	g.haltKind = ""
	g.reason = ""
	g.seen = make(map[string]struct{})

	ev := g.newEventLocked(DayReset, fmt.Sprintf("trading day %s started", g.window.Day()), payload)
	g.mu.Unlock()

	g.rec.RecordEvent(ev)
	g.log.Info("trading day rolled", "day", ev.Day, "prev_day", prev.Day())
	return true
}

// Reload swaps in new limits immediately and re-checks them.
func (g *Guard) Reload(ctx context.Context, l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("reload limits: %w", err)
	}
	g.mu.Lock()
	g.limits = l
	g.staged = nil
	ev, h, halted := g.evaluateLocked()
	g.mu.Unlock()

	g.log.Info("risk limits reloaded", "loss_limit", l.DailyLossLimit, "trade_limit", l.DailyTradeLimit)
	if halted {
		g.afterHalt(ctx, ev, h)
	}
	return nil
}

// Stage queues limits to take effect at the next window boundary.
func (g *Guard) Stage(l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("stage limits: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.staged = &l
	return nil
}

// Restore seeds the guard after a restart within the same trading day.
// A halt event from the current window puts the guard back in HALTED without
// running the halt handler again. Otherwise the restored count is checked
// against the limits like any other mutation, and a breach halts as usual.
// It reports whether the guard is halted afterwards.
func (g *Guard) Restore(ctx context.Context, trades int, lastHalt *Event) bool {
	g.mu.Lock()
	if trades > g.trades {
		g.trades = trades
	}
	if lastHalt != nil && lastHalt.Kind.IsHalt() && g.window.Contains(lastHalt.Time) {
		g.state = Halted
		g.haltKind = lastHalt.Kind
		g.reason = lastHalt.Message
	}
	ev, h, halted := g.evaluateLocked()
	state := g.state
	g.mu.Unlock()

	if halted {
		g.afterHalt(ctx, ev, h)
	}
	return state == Halted
}

func (g *Guard) evaluateLocked() (Event, HaltHandler, bool) {
	if g.state == Halted {
		return Event{}, nil, false
	}
	b, ok := checkLimits(g.limits, g.realized.InexactFloat64(), g.floating, g.trades)
	if !ok {
		return Event{}, nil, false
	}
	return g.haltLocked(b.kind, b.msg, b.payload), g.onHalt, true
}

func (g *Guard) haltLocked(kind EventKind, msg string, payload map[string]any) Event {
	g.state = Halted
	g.haltKind = kind
	g.reason = msg
	return g.newEventLocked(kind, msg, payload)
}

func (g *Guard) newEventLocked(kind EventKind, msg string, payload map[string]any) Event {
	now := g.now()
	ev := Event{
		ID:      id.NewAt(now),
		Time:    now,
		Day:     g.window.Day(),
		Kind:    kind,
		Message: msg,
		Payload: payload,
	}
	g.events = append(g.events, ev)
	return ev
}

func (g *Guard) afterHalt(ctx context.Context, ev Event, h HaltHandler) {
	g.rec.RecordEvent(ev)
	g.log.Warn("trading halted", "kind", ev.Kind, "reason", ev.Message)
	if h != nil {
		h(ctx, ev)
	}
}

// Record appends an externally produced event (auto-close outcomes, failed
// closes) to the risk log and the sink.
func (g *Guard) Record(kind EventKind, msg string, payload map[string]any) Event {
	g.mu.Lock()
	ev := g.newEventLocked(kind, msg, payload)
	g.mu.Unlock()

	g.rec.RecordEvent(ev)
	return ev
}
