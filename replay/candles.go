package replay

import (
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

// series aggregates mid prices into fixed-length bars. The last bar is the
// one still forming.
type series struct {
	bar  time.Duration
	max  int
	bars []market.Candle
}

func (s *series) add(q market.Quote) {
	mid := q.Mid()
	start := q.Time.Truncate(s.bar)

	if n := len(s.bars); n > 0 && s.bars[n-1].Time.Equal(start) {
		c := &s.bars[n-1]
		c.High = max(c.High, mid)
		c.Low = min(c.Low, mid)
		c.Close = mid
		return
	}

	s.bars = append(s.bars, market.Candle{Open: mid, High: mid, Low: mid, Close: mid, Time: start})
	if len(s.bars) > s.max {
		s.bars = s.bars[len(s.bars)-s.max:]
	}
}

func (s *series) snapshot() []market.Candle {
	return append([]market.Candle(nil), s.bars...)
}
