// Package journal persists the risk log and the closed-deal history. Stores
// are synchronous; Async wraps one so the guard never waits on storage.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

type Journal interface {
	RecordEvent(ctx context.Context, ev risk.Event) error
	RecordDeal(ctx context.Context, d broker.Deal) error
	Close() error
}

// Summary is what a store remembers about one trading-day window, used to
// seed the guard after a restart.
type Summary struct {
	Deals    int
	Trades   int // TRADE_ACCEPTED events in the window
	Realized float64
	LastHalt *risk.Event
	Reset    bool // a DAY_RESET was logged after LastHalt
}

// Querier is implemented by stores that can read back what they wrote.
type Querier interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]risk.Event, error)
	ListDeals(ctx context.Context, start, end time.Time) ([]broker.Deal, error)
	DaySummary(ctx context.Context, w risk.Window) (Summary, error)
}
