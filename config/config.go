package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

// Config is the operator configuration. Key names follow the desk's JSON file
// so an existing config.json loads unchanged.
type Config struct {
	Symbols          []string `json:"SYMBOLS" yaml:"SYMBOLS"`
	DefaultTimeframe string   `json:"DEFAULT_TIMEFRAME" yaml:"DEFAULT_TIMEFRAME"`

	// Timezone is an IANA name; empty or "Local" uses the host zone.
	Timezone        string  `json:"TIMEZONE" yaml:"TIMEZONE"`
	ResetHour       int     `json:"TRADING_DAY_RESET_HOUR" yaml:"TRADING_DAY_RESET_HOUR"`
	DailyLossLimit  float64 `json:"DAILY_LOSS_LIMIT" yaml:"DAILY_LOSS_LIMIT"`
	DailyTradeLimit int     `json:"DAILY_TRADE_LIMIT" yaml:"DAILY_TRADE_LIMIT"`

	SLMode      SLModeConfig         `json:"SL_MODE" yaml:"SL_MODE"`
	Sizing      SizingConfig         `json:"POSITION_SIZING" yaml:"POSITION_SIZING"`
	Breakout    BreakoutConfig       `json:"BREAKOUT_SETTINGS" yaml:"BREAKOUT_SETTINGS"`
	BatchOrders map[string]LegConfig `json:"BATCH_ORDER_DEFAULTS" yaml:"BATCH_ORDER_DEFAULTS"`

	BreakevenOffsetPoints float64 `json:"BREAKEVEN_OFFSET_POINTS" yaml:"BREAKEVEN_OFFSET_POINTS"`

	Loop    LoopConfig    `json:"LOOP" yaml:"LOOP"`
	Journal JournalConfig `json:"JOURNAL" yaml:"JOURNAL"`
	Metrics MetricsConfig `json:"METRICS" yaml:"METRICS"`
}

type SLModeConfig struct {
	DefaultMode    string `json:"DEFAULT_MODE" yaml:"DEFAULT_MODE"` // FIXED_POINTS or CANDLE_KEY_LEVEL
	CandleLookback int    `json:"CANDLE_LOOKBACK" yaml:"CANDLE_LOOKBACK"`
}

type SizingConfig struct {
	DefaultMode string `json:"DEFAULT_MODE" yaml:"DEFAULT_MODE"` // FIXED_VOLUME or FIXED_LOSS
}

type BreakoutConfig struct {
	HighOffsetPoints float64 `json:"HIGH_OFFSET_POINTS" yaml:"HIGH_OFFSET_POINTS"`
	LowOffsetPoints  float64 `json:"LOW_OFFSET_POINTS" yaml:"LOW_OFFSET_POINTS"`
	SLOffsetPoints   float64 `json:"SL_OFFSET_POINTS" yaml:"SL_OFFSET_POINTS"`
}

// LegConfig is one "orderN" entry. A missing enabled flag means enabled.
type LegConfig struct {
	Volume    float64 `json:"volume" yaml:"volume"`
	FixedLoss float64 `json:"fixed_loss,omitempty" yaml:"fixed_loss,omitempty"`
	SLPoints  float64 `json:"sl_points" yaml:"sl_points"`
	SLCandle  int     `json:"sl_candle,omitempty" yaml:"sl_candle,omitempty"`
	TPPoints  float64 `json:"tp_points" yaml:"tp_points"`
	Enabled   *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Comment   string  `json:"comment,omitempty" yaml:"comment,omitempty"`
}

func (l LegConfig) enabled() bool { return l.Enabled == nil || *l.Enabled }

type LoopConfig struct {
	Interval       string  `json:"INTERVAL" yaml:"INTERVAL"`               // e.g. "1s"
	GatewayTimeout string  `json:"GATEWAY_TIMEOUT" yaml:"GATEWAY_TIMEOUT"` // e.g. "3s"
	CloseAttempts  int     `json:"CLOSE_ATTEMPTS" yaml:"CLOSE_ATTEMPTS"`
	MinStopPoints  float64 `json:"MIN_STOP_POINTS" yaml:"MIN_STOP_POINTS"`
}

// IntervalDuration parses Interval; empty means zero.
func (l LoopConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration(l.Interval)
}

// TimeoutDuration parses GatewayTimeout; empty means zero.
func (l LoopConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(l.GatewayTimeout)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

type JournalConfig struct {
	Type       string `json:"TYPE" yaml:"TYPE"` // "sqlite", "csv" or "none"
	DBPath     string `json:"DB_PATH,omitempty" yaml:"DB_PATH,omitempty"`
	EventsFile string `json:"EVENTS_FILE,omitempty" yaml:"EVENTS_FILE,omitempty"`
	DealsFile  string `json:"DEALS_FILE,omitempty" yaml:"DEALS_FILE,omitempty"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it.
	Listen string `json:"LISTEN" yaml:"LISTEN"`
}

// LoadFromFile reads a YAML or JSON file over Default, so keys absent from
// the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes data over Default without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every field the runtime depends on and reports the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must not be empty")
	}
	if _, err := market.Timeframe(c.DefaultTimeframe).Duration(); err != nil {
		return fmt.Errorf("DEFAULT_TIMEFRAME: %w", err)
	}
	if _, err := c.Limits(); err != nil {
		return err
	}
	if c.Breakout.HighOffsetPoints < 0 || c.Breakout.LowOffsetPoints < 0 || c.Breakout.SLOffsetPoints < 0 {
		return fmt.Errorf("BREAKOUT_SETTINGS offsets must not be negative")
	}
	if c.BreakevenOffsetPoints < 0 {
		return fmt.Errorf("BREAKEVEN_OFFSET_POINTS must not be negative")
	}
	if _, err := c.Legs(); err != nil {
		return err
	}
	if _, err := c.Loop.IntervalDuration(); err != nil {
		return fmt.Errorf("LOOP.INTERVAL: %w", err)
	}
	if _, err := c.Loop.TimeoutDuration(); err != nil {
		return fmt.Errorf("LOOP.GATEWAY_TIMEOUT: %w", err)
	}
	if c.Loop.CloseAttempts < 0 {
		return fmt.Errorf("LOOP.CLOSE_ATTEMPTS must not be negative")
	}

	switch c.Journal.Type {
	case "none", "":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("JOURNAL.DB_PATH required for sqlite type")
		}
	case "csv":
		if c.Journal.EventsFile == "" || c.Journal.DealsFile == "" {
			return fmt.Errorf("JOURNAL.EVENTS_FILE and JOURNAL.DEALS_FILE required for csv type")
		}
	default:
		return fmt.Errorf("JOURNAL.TYPE must be 'sqlite', 'csv' or 'none'")
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// Limits builds the guard's limits snapshot.
func (c *Config) Limits() (risk.Limits, error) {
	loc, err := c.Location()
	if err != nil {
		return risk.Limits{}, err
	}
	l := risk.Limits{
		DailyLossLimit:  c.DailyLossLimit,
		DailyTradeLimit: c.DailyTradeLimit,
		ResetHour:       c.ResetHour,
		Location:        loc,
	}
	if err := l.Validate(); err != nil {
		return risk.Limits{}, err
	}
	return l, nil
}

// Legs converts BATCH_ORDER_DEFAULTS into slot-ordered legs. Sizing and stop
// modes come from the global POSITION_SIZING and SL_MODE sections; a leg's
// own sl_candle overrides CANDLE_LOOKBACK.
func (c *Config) Legs() ([]risk.Leg, error) {
	if len(c.BatchOrders) > risk.MaxLegs {
		return nil, fmt.Errorf("BATCH_ORDER_DEFAULTS has %d entries, at most %d allowed", len(c.BatchOrders), risk.MaxLegs)
	}
	sizing, err := risk.ParseSizingMode(c.Sizing.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("POSITION_SIZING.DEFAULT_MODE: %w", err)
	}
	stopMode, err := risk.ParseStopMode(c.SLMode.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("SL_MODE.DEFAULT_MODE: %w", err)
	}

	legs := make([]risk.Leg, 0, len(c.BatchOrders))
	for key, lc := range c.BatchOrders {
		slot, err := slotOf(key)
		if err != nil {
			return nil, err
		}

		leg := risk.Leg{
			Slot:             slot,
			Enabled:          lc.enabled(),
			Sizing:           sizing,
			Volume:           lc.Volume,
			FixedLoss:        lc.FixedLoss,
			TakeProfitPoints: lc.TPPoints,
			Comment:          lc.Comment,
		}
		if stopMode == risk.CandleKeyLevelMode {
			n := lc.SLCandle
			if n == 0 {
				n = c.SLMode.CandleLookback
			}
			leg.Stop = risk.CandleKeyLevel(n)
		} else {
			leg.Stop = risk.FixedPoints(lc.SLPoints)
		}

		if leg.Enabled {
			if err := leg.Validate(); err != nil {
				return nil, fmt.Errorf("BATCH_ORDER_DEFAULTS.%s: %w", key, err)
			}
		}
		legs = append(legs, leg)
	}

	sort.Slice(legs, func(i, j int) bool { return legs[i].Slot < legs[j].Slot })
	return legs, nil
}

func slotOf(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "order"))
	if !strings.HasPrefix(key, "order") || err != nil || n < 1 || n > risk.MaxLegs {
		return 0, fmt.Errorf("BATCH_ORDER_DEFAULTS: bad key %q, want order1..order%d", key, risk.MaxLegs)
	}
	return n, nil
}

// Default mirrors the desk's stock configuration.
func Default() *Config {
	return &Config{
		Symbols:          []string{"BTCUSD", "ETHUSD", "EURUSD", "GBPUSD", "XAUUSD", "XAGUSD"},
		DefaultTimeframe: string(market.M1),
		Timezone:         "Local",
		ResetHour:        6,
		DailyLossLimit:   50,
		DailyTradeLimit:  20,
		SLMode: SLModeConfig{
			DefaultMode:    risk.FixedPointsMode.String(),
			CandleLookback: 3,
		},
		Sizing: SizingConfig{
			DefaultMode: risk.FixedVolume.String(),
		},
		Breakout: BreakoutConfig{
			HighOffsetPoints: 10,
			LowOffsetPoints:  10,
			SLOffsetPoints:   100,
		},
		BatchOrders: map[string]LegConfig{
			"order1": {Volume: 0.10, FixedLoss: 5, SLPoints: 500, SLCandle: 3, TPPoints: 1000},
			"order2": {Volume: 0.10, FixedLoss: 5, SLPoints: 500, SLCandle: 3, TPPoints: 1500},
			"order3": {Volume: 0.10, FixedLoss: 5, SLPoints: 500, SLCandle: 3, TPPoints: 2000},
			"order4": {Volume: 0.10, FixedLoss: 5, SLPoints: 500, SLCandle: 3, TPPoints: 2500},
		},
		BreakevenOffsetPoints: 0,
		Loop: LoopConfig{
			Interval:       "1s",
			GatewayTimeout: "3s",
			CloseAttempts:  3,
			MinStopPoints:  0,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./tradeguard.db",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9108",
		},
	}
}
