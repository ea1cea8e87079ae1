// Package broker describes the two external collaborators the engine pulls
// from: a PriceFeed for quotes, candles and contract specs, and a Gateway that
// executes orders and reports positions and closed deals.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

type PriceFeed interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	// Candles returns count bars oldest first; the last one is still forming.
	Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error)
	SymbolInfo(ctx context.Context, symbol string) (market.Symbol, error)
}

type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (Ticket, error)
	ClosePosition(ctx context.Context, ticket Ticket) error
	CancelPending(ctx context.Context, ticket Ticket) error
	ModifyStops(ctx context.Context, ticket Ticket, stopLoss, takeProfit *float64) error
	OpenPositions(ctx context.Context, symbols []string) ([]Position, error)
	PendingOrders(ctx context.Context, symbols []string) ([]PendingOrder, error)
	ClosedDeals(ctx context.Context, since time.Time) ([]Deal, error)
}

// Ticket is the broker's identifier for an order or position.
type Ticket uint64

type OrderType int

const (
	Market OrderType = iota
	BuyStop
	SellStop
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case BuyStop:
		return "buy_stop"
	case SellStop:
		return "sell_stop"
	}
	return "unknown"
}

type OrderRequest struct {
	Symbol     string
	Direction  market.Direction
	Type       OrderType
	Volume     float64
	Price      float64 // trigger price for stop orders, ignored for market orders
	StopLoss   *float64
	TakeProfit *float64
	Comment    string
}

type Position struct {
	Ticket     Ticket
	Symbol     string
	Direction  market.Direction
	Volume     float64
	OpenPrice  float64
	OpenTime   time.Time
	StopLoss   float64 // 0 when unset
	TakeProfit float64
	Profit     float64 // floating P&L in account currency
}

type PendingOrder struct {
	Ticket    Ticket
	Symbol    string
	Direction market.Direction
	Type      OrderType
	Volume    float64
	Price     float64
}

// Deal is a closed trade as reported by the broker's history.
type Deal struct {
	ID         string
	Ticket     Ticket
	Symbol     string
	Direction  market.Direction
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	CloseTime  time.Time
	Profit     float64 // realized, net of commission and swap
	Comment    string
}
