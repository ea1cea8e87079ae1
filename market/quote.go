package market

import "time"

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Entry is the price a new order fills at: ask for buys, bid for sells.
func (q Quote) Entry(dir Direction) float64 {
	if dir == Sell {
		return q.Bid
	}
	return q.Ask
}

// Mark is the price an open position closes at: bid for longs, ask for shorts.
func (q Quote) Mark(dir Direction) float64 {
	if dir == Sell {
		return q.Ask
	}
	return q.Bid
}

// Valid reports whether both sides are positive and not crossed.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}
