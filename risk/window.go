package risk

import "time"

// Window is one trading day: [Start, End) where Start is the most recent
// local reset hour at or before the instant the window was computed for.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAt returns the trading-day window containing now.
func WindowAt(now time.Time, resetHour int, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), resetHour, 0, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	// AddDate keeps the wall-clock hour across DST changes.
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Day labels the window by its start date, the way the deal history is keyed.
func (w Window) Day() string {
	return w.Start.Format("2006-01-02")
}
