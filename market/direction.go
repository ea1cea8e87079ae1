package market

import (
	"fmt"
	"strings"
)

// Direction is the side of an order or position.
type Direction int

const (
	Buy Direction = iota + 1
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign is +1 for buys and -1 for sells.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Opposite returns the closing side.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy, nil
	case "sell", "short":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
