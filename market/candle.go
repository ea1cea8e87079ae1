package market

import (
	"fmt"
	"time"
)

// Candle represents OHLC (Open, High, Low, Close) candlestick data.
// Series are ordered oldest first; the last element of a feed response is the
// bar that is still forming.
type Candle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
	time.Time
}

// Closed drops the forming bar and returns at most the last n closed candles.
func Closed(candles []Candle, n int) ([]Candle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", n)
	}
	if len(candles) < n+1 {
		return nil, fmt.Errorf("need %d candles, have %d", n+1, len(candles))
	}
	closed := candles[:len(candles)-1]
	return closed[len(closed)-n:], nil
}

// Extremes returns the highest high and lowest low across candles.
func Extremes(candles []Candle) (high, low float64, err error) {
	if len(candles) == 0 {
		return 0, 0, fmt.Errorf("no candles")
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low, nil
}

// KeyLevel is the protective extreme for a direction: the low for buys and
// the high for sells.
func KeyLevel(candles []Candle, dir Direction) (float64, error) {
	high, low, err := Extremes(candles)
	if err != nil {
		return 0, err
	}
	if dir == Buy {
		return low, nil
	}
	return high, nil
}
