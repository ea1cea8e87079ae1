package risk

import (
	"time"

	"github.com/rustyeddy/tradeguard/broker"
)

type EventKind string

const (
	LossLimitBreach  EventKind = "LIMIT_BREACH_LOSS"
	TradeLimitBreach EventKind = "LIMIT_BREACH_TRADES"
	ManualOverride   EventKind = "MANUAL_OVERRIDE"
	AutoClose        EventKind = "AUTO_CLOSE"
	CloseFailedEvent EventKind = "CLOSE_FAILED"
	DayReset         EventKind = "DAY_RESET"

	// TradeAccepted is journaled once per committed trade slot so the day's
	// count survives a restart. The guard does not keep it in Events.
	TradeAccepted EventKind = "TRADE_ACCEPTED"
)

// Event is one entry of the append-only risk log.
type Event struct {
	ID      string
	Time    time.Time
	Day     string
	Kind    EventKind
	Message string
	Payload map[string]any
}

// IsHalt reports whether the event kind moves the guard to HALTED.
func (k EventKind) IsHalt() bool {
	return k == LossLimitBreach || k == TradeLimitBreach || k == ManualOverride
}

// Recorder is the persistence sink. Calls are fire-and-forget: implementations
// must not block the caller on storage I/O.
type Recorder interface {
	RecordEvent(Event)
	RecordDeal(broker.Deal)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(Event)      {}
func (nopRecorder) RecordDeal(broker.Deal) {}

type multiRecorder []Recorder

// Recorders fans events and deals out to every non-nil recorder in order.
func Recorders(rs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) RecordEvent(ev Event) {
	for _, r := range m {
		r.RecordEvent(ev)
	}
}

func (m multiRecorder) RecordDeal(d broker.Deal) {
	for _, r := range m {
		r.RecordDeal(d)
	}
}
