package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle period in the broker's "M1", "H4", "D1" notation.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Duration parses the timeframe into its bar length.
func (tf Timeframe) Duration() (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(string(tf)))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch s[0] {
	case 'M':
		return time.Duration(n) * time.Minute, nil
	case 'H':
		return time.Duration(n) * time.Hour, nil
	case 'D':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'W':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", tf)
}
