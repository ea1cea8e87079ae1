package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/rustyeddy/tradeguard/errdefs"
)

// Alert is an escalation that needs the operator's attention.
type Alert struct {
	Severity errdefs.Severity
	Title    string
	Message  string
	EventID  string
	Time     time.Time
}

// Alerter delivers alerts to whatever the operator watches. Implementations
// must not block for long; Flatten calls them inline.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LevelCritical sits above slog.LevelError for alerts that need a human.
const LevelCritical = slog.LevelError + 4

// LogAlerter writes alerts to a structured logger.
type LogAlerter struct {
	Log *slog.Logger
}

func (l LogAlerter) Alert(ctx context.Context, a Alert) {
	if l.Log == nil {
		return
	}
	l.Log.Log(ctx, alertLevel(a.Severity), a.Title,
		"severity", a.Severity.String(),
		"message", a.Message,
		"event_id", a.EventID,
	)
}

func alertLevel(s errdefs.Severity) slog.Level {
	switch s {
	case errdefs.SeverityDebug:
		return slog.LevelDebug
	case errdefs.SeverityWarn:
		return slog.LevelWarn
	case errdefs.SeverityError:
		return slog.LevelError
	default:
		return LevelCritical
	}
}
