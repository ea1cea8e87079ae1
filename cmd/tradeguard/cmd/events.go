package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/risk"
)

var eventsCmd = &cobra.Command{
	Use:   "events [YYYY-MM-DD]",
	Short: "Show the risk events and deals of a trading day",
	Long: `Print one trading day from the SQLite journal as an Org-mode block.

The day runs from TRADING_DAY_RESET_HOUR to the same hour on the next calendar
day in the configured TIMEZONE. Without an argument the current day is shown.

Examples:
  tradeguard events
  tradeguard events 2024-06-03 --db ./tradeguard.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvents,
}

var eventsDBPath string

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVarP(&eventsDBPath, "db", "d", "", "path to SQLite journal DB (default JOURNAL.DB_PATH)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	limits, err := cfg.Limits()
	if err != nil {
		return fmt.Errorf("limits: %w", err)
	}

	day := ""
	if len(args) == 1 {
		day = args[0]
	}
	w, err := dayWindow(day, time.Now(), limits.ResetHour, limits.Location)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	path := eventsDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	ctx := context.Background()
	events, err := j.ListEvents(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	deals, err := j.ListDeals(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("query deals: %w", err)
	}
	sum, err := j.DaySummary(ctx, w)
	if err != nil {
		return fmt.Errorf("day summary: %w", err)
	}

	fmt.Print(journal.FormatDayOrg(w, sum, events, deals))
	return nil
}

// dayWindow returns the trading-day window labelled day, or the one
// containing now when day is empty.
func dayWindow(day string, now time.Time, resetHour int, loc *time.Location) (risk.Window, error) {
	if loc == nil {
		loc = time.Local
	}
	if day == "" {
		return risk.WindowAt(now, resetHour, loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return risk.Window{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), resetHour, 0, 0, 0, loc)
	return risk.WindowAt(start, resetHour, loc), nil
}
