package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

// FormatDayOrg renders one trading day as an Org-mode block: a PROPERTIES
// drawer with the summary followed by the risk events and closed deals, ready
// to paste into a trading journal.
func FormatDayOrg(w risk.Window, s Summary, events []risk.Event, deals []broker.Deal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trading day %s\n", w.Day())
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":WINDOW_START: %s\n", w.Start.Format(time.RFC3339))
	fmt.Fprintf(&b, ":WINDOW_END: %s\n", w.End.Format(time.RFC3339))
	fmt.Fprintf(&b, ":DEALS: %d\n", s.Deals)
	fmt.Fprintf(&b, ":TRADES: %d\n", s.Trades)
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", s.Realized)
	if s.LastHalt != nil {
		fmt.Fprintf(&b, ":HALTED: %s %s\n", s.LastHalt.Kind, s.LastHalt.Message)
	}
	b.WriteString(":END:\n")

	b.WriteString("\n*** Risk events\n")
	n := 0
	for _, ev := range events {
		// Accepted trades are already summed in :TRADES:.
		if ev.Kind == risk.TradeAccepted {
			continue
		}
		fmt.Fprintf(&b, "- %s %s %s\n", ev.Time.Format("15:04:05"), ev.Kind, ev.Message)
		n++
	}
	if n == 0 {
		b.WriteString("- none\n")
	}

	b.WriteString("\n*** Deals\n")
	if len(deals) == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	b.WriteString("| time | ticket | symbol | dir | volume | open | close | profit | comment |\n")
	b.WriteString("|------+--------+--------+-----+--------+------+-------+--------+---------|\n")
	for _, d := range deals {
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %.2f | %.5f | %.5f | %.2f | %s |\n",
			d.CloseTime.Format("15:04:05"), d.Ticket, d.Symbol, d.Direction,
			d.Volume, d.OpenPrice, d.ClosePrice, d.Profit, d.Comment)
	}
	return b.String()
}
