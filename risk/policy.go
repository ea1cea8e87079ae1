package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradeguard/errdefs"
)

// MaxLegs is the number of slots in a batch.
const MaxLegs = 10

// Limits is the immutable risk configuration snapshot the guard runs with.
type Limits struct {
	// DailyLossLimit is a positive amount of account currency; zero disables it.
	DailyLossLimit float64
	// DailyTradeLimit counts accepted legs per window; zero disables it.
	DailyTradeLimit int
	// ResetHour is the local hour a new trading day starts (0..23).
	ResetHour int
	Location  *time.Location
}

func (l Limits) Validate() error {
	if l.DailyLossLimit < 0 {
		return errdefs.NewValidation("DAILY_LOSS_LIMIT", l.DailyLossLimit, "must not be negative")
	}
	if l.DailyTradeLimit < 0 {
		return errdefs.NewValidation("DAILY_TRADE_LIMIT", l.DailyTradeLimit, "must not be negative")
	}
	if l.ResetHour < 0 || l.ResetHour > 23 {
		return errdefs.NewValidation("TRADING_DAY_RESET_HOUR", l.ResetHour, "must be within 0..23")
	}
	return nil
}

func (l Limits) location() *time.Location {
	if l.Location == nil {
		return time.Local
	}
	return l.Location
}

type SizingMode int

const (
	FixedVolume SizingMode = iota
	FixedLoss
)

func (m SizingMode) String() string {
	if m == FixedLoss {
		return "FIXED_LOSS"
	}
	return "FIXED_VOLUME"
}

func ParseSizingMode(s string) (SizingMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIXED_VOLUME", "FIXED_LOTS", "":
		return FixedVolume, nil
	case "FIXED_LOSS":
		return FixedLoss, nil
	}
	return 0, fmt.Errorf("unknown sizing mode %q", s)
}

type StopMode int

const (
	FixedPointsMode StopMode = iota
	CandleKeyLevelMode
)

func (m StopMode) String() string {
	if m == CandleKeyLevelMode {
		return "CANDLE_KEY_LEVEL"
	}
	return "FIXED_POINTS"
}

func ParseStopMode(s string) (StopMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIXED_POINTS", "":
		return FixedPointsMode, nil
	case "CANDLE_KEY_LEVEL":
		return CandleKeyLevelMode, nil
	}
	return 0, fmt.Errorf("unknown stop-loss mode %q", s)
}

// StopPolicy is a tagged variant: Points is meaningful for FixedPointsMode,
// Lookback for CandleKeyLevelMode. Build it with FixedPoints or CandleKeyLevel.
type StopPolicy struct {
	Mode     StopMode
	Points   float64
	Lookback int
}

func FixedPoints(points float64) StopPolicy {
	return StopPolicy{Mode: FixedPointsMode, Points: points}
}

func CandleKeyLevel(lookback int) StopPolicy {
	return StopPolicy{Mode: CandleKeyLevelMode, Lookback: lookback}
}

func (p StopPolicy) String() string {
	if p.Mode == CandleKeyLevelMode {
		return fmt.Sprintf("CandleKeyLevel(%d)", p.Lookback)
	}
	return fmt.Sprintf("FixedPoints(%g)", p.Points)
}

// Leg is one operator-configured slot of a batch.
type Leg struct {
	Slot    int
	Enabled bool

	Sizing    SizingMode
	Volume    float64 // lots, FixedVolume only
	FixedLoss float64 // account currency, FixedLoss only

	Stop             StopPolicy
	TakeProfitPoints float64 // 0 means no take profit
	Comment          string
}

func (l Leg) Validate() error {
	if l.Slot < 1 || l.Slot > MaxLegs {
		return errdefs.NewValidation("slot", l.Slot, fmt.Sprintf("must be within 1..%d", MaxLegs))
	}
	switch l.Sizing {
	case FixedVolume:
		if l.Volume <= 0 {
			return errdefs.NewValidation("volume", l.Volume, "must be positive in FIXED_VOLUME mode")
		}
	case FixedLoss:
		if l.FixedLoss <= 0 {
			return errdefs.NewValidation("fixed_loss", l.FixedLoss, "must be positive in FIXED_LOSS mode")
		}
	default:
		return errdefs.NewValidation("sizing", l.Sizing, "unknown sizing mode")
	}
	switch l.Stop.Mode {
	case FixedPointsMode:
		if l.Stop.Points <= 0 {
			return errdefs.NewValidation("sl_points", l.Stop.Points, "must be positive")
		}
	case CandleKeyLevelMode:
		if l.Stop.Lookback <= 0 {
			return errdefs.NewValidation("sl_candle", l.Stop.Lookback, "must be positive")
		}
	default:
		return errdefs.NewValidation("sl_mode", l.Stop.Mode, "unknown stop-loss mode")
	}
	if l.TakeProfitPoints < 0 {
		return errdefs.NewValidation("tp_points", l.TakeProfitPoints, "must not be negative")
	}
	return nil
}
