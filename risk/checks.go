package risk

import "fmt"

type breach struct {
	kind    EventKind
	msg     string
	payload map[string]any
}

// checkLimits returns the first limit crossed, loss before trade count.
// A zero limit is disabled.
func checkLimits(l Limits, realized, floating float64, trades int) (breach, bool) {
	total := realized + floating
	if l.DailyLossLimit > 0 && total <= -l.DailyLossLimit {
		return breach{
			kind: LossLimitBreach,
			msg: fmt.Sprintf("daily loss %.2f (realized %.2f, floating %.2f) reached limit %.2f",
				total, realized, floating, l.DailyLossLimit),
			payload: map[string]any{
				"realized": realized,
				"floating": floating,
				"total":    total,
				"limit":    l.DailyLossLimit,
			},
		}, true
	}
	if l.DailyTradeLimit > 0 && trades >= l.DailyTradeLimit {
		return breach{
			kind: TradeLimitBreach,
			msg:  fmt.Sprintf("trade count %d reached limit %d", trades, l.DailyTradeLimit),
			payload: map[string]any{
				"trades": trades,
				"limit":  l.DailyTradeLimit,
			},
		}, true
	}
	return breach{}, false
}
