// Package breakout arms price levels derived from recent candle extremes and
// reports, once, when live quotes cross them.
package breakout

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/risk"
)

type State int

const (
	Armed State = iota
	Triggered
	Cancelled
)

func (s State) String() string {
	switch s {
	case Armed:
		return "ARMED"
	case Triggered:
		return "TRIGGERED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Order is a breakout level waiting for price.
type Order struct {
	ID        string
	Symbol    string
	Direction market.Direction
	Trigger   float64
	Leg       risk.Leg
	ArmedAt   time.Time
	State     State
}

// Trigger reports an order whose level was crossed and the quote that did it.
type Trigger struct {
	Order Order
	Quote market.Quote
}

// crossed reports whether q reaches the order's level: ask at or above for
// buys, bid at or below for sells.
func (o Order) crossed(q market.Quote) bool {
	if o.Direction == market.Buy {
		return q.Ask >= o.Trigger
	}
	return q.Bid <= o.Trigger
}

// Watcher holds the armed set. A triggered order leaves the set in the same
// critical section that detected the cross, so it fires at most once.
type Watcher struct {
	mu    sync.Mutex
	armed map[string]*Order
	now   func() time.Time
	log   *slog.Logger
}

func NewWatcher(log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		armed: make(map[string]*Order),
		now:   time.Now,
		log:   log,
	}
}

// Arm validates o and adds it to the armed set, returning its id.
func (w *Watcher) Arm(o Order) (string, error) {
	if o.Symbol == "" {
		return "", errdefs.NewValidation("symbol", o.Symbol, "must not be empty")
	}
	if !o.Direction.Valid() {
		return "", errdefs.NewValidation("direction", o.Direction, "must be buy or sell")
	}
	if o.Trigger <= 0 {
		return "", errdefs.NewValidation("trigger", o.Trigger, "must be positive")
	}
	if err := o.Leg.Validate(); err != nil {
		return "", fmt.Errorf("arm breakout: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	o.ArmedAt = w.now()
	o.ID = id.NewAt(o.ArmedAt)
	o.State = Armed
	w.armed[o.ID] = &o

	w.log.Info("breakout armed", "id", o.ID, "symbol", o.Symbol, "dir", o.Direction, "trigger", o.Trigger)
	return o.ID, nil
}

// Tick evaluates q against every armed order on its symbol. Triggers come back
// in arming order.
func (w *Watcher) Tick(q market.Quote) []Trigger {
	if !q.Valid() {
		return nil
	}

	w.mu.Lock()
	var out []Trigger
	for key, o := range w.armed {
		if o.Symbol != q.Symbol || !o.crossed(q) {
			continue
		}
		delete(w.armed, key)
		o.State = Triggered
		out = append(out, Trigger{Order: *o, Quote: q})
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	for _, t := range out {
		w.log.Info("breakout triggered", "id", t.Order.ID, "symbol", q.Symbol, "bid", q.Bid, "ask", q.Ask)
	}
	return out
}

// Cancel disarms one order. It reports false when id is not armed.
func (w *Watcher) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	o, ok := w.armed[id]
	if !ok {
		return false
	}
	o.State = Cancelled
	delete(w.armed, id)
	return true
}

// CancelAll disarms everything and returns what was armed.
func (w *Watcher) CancelAll() []Order {
	w.mu.Lock()
	out := make([]Order, 0, len(w.armed))
	for _, o := range w.armed {
		o.State = Cancelled
		out = append(out, *o)
	}
	w.armed = make(map[string]*Order)
	w.mu.Unlock()

	sortOrders(out)
	if len(out) > 0 {
		w.log.Info("breakouts cancelled", "count", len(out))
	}
	return out
}

// Armed returns a copy of the armed set in arming order.
func (w *Watcher) Armed() []Order {
	w.mu.Lock()
	out := make([]Order, 0, len(w.armed))
	for _, o := range w.armed {
		out = append(out, *o)
	}
	w.mu.Unlock()

	sortOrders(out)
	return out
}

// ULIDs sort by creation time.
func sortOrders(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
