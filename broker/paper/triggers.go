package paper

import (
	"sort"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
)

func hitStopLoss(p *position, mark float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Direction == market.Buy {
		return mark <= p.StopLoss
	}
	return mark >= p.StopLoss
}

func hitTakeProfit(p *position, mark float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Direction == market.Buy {
		return mark >= p.TakeProfit
	}
	return mark <= p.TakeProfit
}

// firePendingLocked converts stop orders whose level the quote has reached
// into open positions filled at the touch.
func (e *Engine) firePendingLocked(q market.Quote) {
	for _, t := range sortedTickets(e.pending) {
		o := e.pending[t]
		if o.Symbol != q.Symbol {
			continue
		}
		hit := (o.Type == broker.BuyStop && q.Ask >= o.Price) ||
			(o.Type == broker.SellStop && q.Bid <= o.Price)
		if !hit {
			continue
		}
		st := e.pendingStops[t]
		p := &position{
			Position: broker.Position{
				Ticket:    t,
				Symbol:    o.Symbol,
				Direction: o.Direction,
				Volume:    o.Volume,
				OpenPrice: q.Entry(o.Direction),
				OpenTime:  q.Time,
			},
			comment: st.comment,
		}
		p.setStops(st.sl, st.tp)
		e.open[t] = p
		delete(e.pending, t)
		delete(e.pendingStops, t)
	}
}

// fireStopsLocked closes positions whose SL or TP the quote has crossed.
func (e *Engine) fireStopsLocked(q market.Quote) []broker.Deal {
	var closed []broker.Deal
	for _, t := range sortedTickets(e.open) {
		p := e.open[t]
		if p.Symbol != q.Symbol {
			continue
		}
		mark := q.Mark(p.Direction)
		switch {
		case hitStopLoss(p, mark):
			closed = append(closed, e.closeLocked(p, mark, q.Time, "StopLoss"))
		case hitTakeProfit(p, mark):
			closed = append(closed, e.closeLocked(p, mark, q.Time, "TakeProfit"))
		}
	}
	return closed
}

func sortedTickets[V any](m map[broker.Ticket]V) []broker.Ticket {
	out := make([]broker.Ticket, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
