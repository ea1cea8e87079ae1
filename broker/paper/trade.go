package paper

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
)

type position struct {
	broker.Position
	comment string
}

type stops struct {
	sl, tp  *float64
	comment string
}

func (p *position) setStops(sl, tp *float64) {
	if sl != nil {
		p.StopLoss = *sl
	}
	if tp != nil {
		p.TakeProfit = *tp
	}
}

// checkStops rejects protective levels on the wrong side of price.
func checkStops(dir market.Direction, price float64, sl, tp *float64) error {
	if sl != nil && *sl > 0 {
		if dir == market.Buy && *sl >= price {
			return fmt.Errorf("stop %.5f not below %.5f", *sl, price)
		}
		if dir == market.Sell && *sl <= price {
			return fmt.Errorf("stop %.5f not above %.5f", *sl, price)
		}
	}
	if tp != nil && *tp > 0 {
		if dir == market.Buy && *tp <= price {
			return fmt.Errorf("take %.5f not above %.5f", *tp, price)
		}
		if dir == market.Sell && *tp >= price {
			return fmt.Errorf("take %.5f not below %.5f", *tp, price)
		}
	}
	return nil
}

// profitLocked values a position at mark in account currency.
func (e *Engine) profitLocked(p broker.Position, mark float64) float64 {
	sym, ok := e.symbols[p.Symbol]
	if !ok || sym.Point <= 0 {
		return 0
	}
	points := sym.Points(p.Direction.Sign() * (mark - p.OpenPrice))
	return points * sym.PointValuePerLot() * p.Volume
}

func (e *Engine) closeLocked(p *position, price float64, at time.Time, reason string) broker.Deal {
	profit := e.profitLocked(p.Position, price)
	delete(e.open, p.Ticket)
	e.balance += profit

	comment := reason
	if p.comment != "" {
		comment = p.comment + "/" + reason
	}
	d := broker.Deal{
		ID:         fmt.Sprintf("D%d", p.Ticket),
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		ClosePrice: price,
		CloseTime:  at,
		Profit:     profit,
		Comment:    comment,
	}
	e.deals = append(e.deals, d)
	return d
}
