package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/api"
	"github.com/rustyeddy/tradeguard/batch"
	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/broker/paper"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/engine"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/metrics"
	"github.com/rustyeddy/tradeguard/replay"
	"github.com/rustyeddy/tradeguard/risk"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk guard",
	Long: `Run the control loop, the HTTP API and the journal against the paper
broker.

With --replay the paper broker is driven by a recorded tick file and the
guard's clock follows the file, so a whole trading day can be rehearsed in
seconds. Without it the paper broker only moves when quotes are pushed.

The config file is watched: limit changes take effect at the next trading day
and leg defaults immediately. SIGHUP applies new limits immediately.

Example:
  tradeguard run -c config.json --replay data/eurusd.csv --speed 60`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runReplayPath string
	runSpeed      float64
	runBalance    float64
	runKeepAlive  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runReplayPath, "replay", "r", "", "tick CSV (time,symbol,bid,ask[,event...]) driving the paper broker")
	runCmd.Flags().Float64Var(&runSpeed, "speed", 1, "replay speed multiple; 0 replays without pause")
	runCmd.Flags().Float64VarP(&runBalance, "balance", "b", 10_000, "paper account balance")
	runCmd.Flags().BoolVar(&runKeepAlive, "keep-alive", false, "keep serving after the replay ends")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	limits, err := cfg.Limits()
	if err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	settings, err := settingsFrom(cfg)
	if err != nil {
		return fmt.Errorf("legs: %w", err)
	}
	interval, err := cfg.Loop.IntervalDuration()
	if err != nil {
		return fmt.Errorf("loop interval: %w", err)
	}
	timeout, err := cfg.Loop.TimeoutDuration()
	if err != nil {
		return fmt.Errorf("gateway timeout: %w", err)
	}

	symbols := make([]market.Symbol, 0, len(cfg.Symbols))
	for _, name := range cfg.Symbols {
		s, ok := market.Symbols[name]
		if !ok {
			return fmt.Errorf("unknown symbol: %s", name)
		}
		symbols = append(symbols, s)
	}
	eng := paper.NewEngine(runBalance, symbols...)
	eng.OnDealClosed(logPaperDeal(logger.With("component", "paper")))

	now := time.Now
	var player *replay.Player
	if runReplayPath != "" {
		rows, err := replay.Load(runReplayPath)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		player = replay.NewPlayer(rows, eng, replay.Options{
			Timeframe: settings.Timeframe,
			Speed:     runSpeed,
		}, logger.With("component", "replay"))
		now = player.Now
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	recorders := []risk.Recorder{m}
	j, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	if j != nil {
		async := journal.NewAsync(j, journal.DefaultBuffer, logger.With("component", "journal"))
		defer func() {
			if err := async.Close(); err != nil {
				logger.Error("journal close failed", "err", err)
			}
			if n := async.Dropped(); n > 0 {
				logger.Warn("journal entries dropped", "count", n)
			}
		}()
		recorders = append(recorders, async)
	}

	guard, err := risk.NewGuard(limits,
		risk.WithClock(now),
		risk.WithRecorder(risk.Recorders(recorders...)),
		risk.WithLogger(logger.With("component", "guard")),
	)
	if err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	ctl := batch.New(eng, eng, guard, batch.Config{
		Symbols:        cfg.Symbols,
		Timeframe:      settings.Timeframe,
		CloseAttempts:  cfg.Loop.CloseAttempts,
		Timeout:        timeout,
		SLOffsetPoints: cfg.Breakout.SLOffsetPoints,
		MinStopPoints:  cfg.Loop.MinStopPoints,
	}, batch.WithLogger(logger.With("component", "batch")))
	guard.SetHaltHandler(ctl.OnHalt)

	// Restore after the handler is wired so a restored count that already
	// breaches the trade limit flattens like a live breach.
	if j != nil {
		if q, ok := j.(journal.Querier); ok {
			restoreGuard(ctx, guard, q, limits, now())
		}
	}

	watcher := breakout.NewWatcher(logger.With("component", "breakout"))
	loop := engine.New(engine.Config{
		Symbols:  cfg.Symbols,
		Interval: interval,
		Timeout:  timeout,
	}, eng, eng, guard, watcher, ctl,
		engine.WithLogger(logger.With("component", "loop")),
		engine.WithMetrics(m),
		engine.WithClock(now),
	)

	srv := api.New(ctl, guard, watcher, settings,
		api.WithLogger(logger.With("component", "api")),
		api.WithMetrics(m),
	)

	cfgWatcher, err := config.NewWatcher(cfgPath, func(c *config.Config) {
		applyConfig(c, guard, srv, false)
	}, logger.With("component", "config"))
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return cfgWatcher.Run(ctx) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				c, err := config.LoadFromFile(cfgPath)
				if err != nil {
					logger.Error("reload rejected", "path", cfgPath, "err", err)
					continue
				}
				applyConfig(c, guard, srv, true)
			}
		}
	})

	if player != nil {
		g.Go(func() error {
			if err := player.Run(ctx); err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			// settle the last replayed ticks before reporting
			r := loop.Step(ctx, player.Now())
			snap := guard.Snapshot()
			logger.Info("replay finished",
				"state", snap.State.String(),
				"realized", snap.Realized,
				"floating", snap.Floating,
				"trades", snap.TradeCount,
				"halted", r.Halted,
			)
			if !runKeepAlive {
				cancel()
			}
			return nil
		})
	}

	if addr := cfg.Metrics.Listen; addr != "" {
		hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("api listening", "addr", addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return hs.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// logPaperDeal reports positions the paper broker closes on its own, such as
// stop-loss and take-profit hits while a replay moves the quotes.
func logPaperDeal(log *slog.Logger) func(broker.Deal) {
	return func(d broker.Deal) {
		log.Info("paper position closed",
			"ticket", d.Ticket,
			"symbol", d.Symbol,
			"dir", d.Direction,
			"volume", d.Volume,
			"close", d.ClosePrice,
			"profit", d.Profit,
			"comment", d.Comment,
		)
	}
}

// openJournal returns nil when journaling is disabled.
func openJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "sqlite":
		j, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "csv":
		j, err := journal.NewCSV(jc.EventsFile, jc.DealsFile)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", jc.Type)
	}
}

// restoreGuard seeds the trade count and any halt of the current day from
// the journal, so a restart cannot reopen a halted account or reset the
// day's trade count.
func restoreGuard(ctx context.Context, guard *risk.Guard, q journal.Querier, limits risk.Limits, now time.Time) {
	w := risk.WindowAt(now, limits.ResetHour, limits.Location)
	sum, err := q.DaySummary(ctx, w)
	if err != nil {
		logger.Warn("day summary unavailable", "day", w.Day(), "err", err)
		return
	}
	halted := guard.Restore(ctx, sum.Trades, sum.LastHalt)
	logger.Info("journal day summary",
		"day", w.Day(),
		"deals", sum.Deals,
		"trades", sum.Trades,
		"realized", sum.Realized,
		"halted", halted,
	)
}

// applyConfig hands a changed config to the running guard and API. Limits
// are staged for the next trading day unless now is set.
func applyConfig(c *config.Config, guard *risk.Guard, srv *api.Server, now bool) {
	log := logger.With("component", "config")

	st, err := settingsFrom(c)
	if err != nil {
		log.Error("leg defaults rejected", "err", err)
	} else {
		srv.SetSettings(st)
	}

	limits, err := c.Limits()
	if err != nil {
		log.Error("limits rejected", "err", err)
		return
	}
	if now {
		err = guard.Reload(context.Background(), limits)
	} else {
		err = guard.Stage(limits)
	}
	if err != nil {
		log.Error("limits rejected", "err", err)
		return
	}
	log.Info("config applied", "immediate", now, "loss_limit", limits.DailyLossLimit, "trade_limit", limits.DailyTradeLimit)
}

func settingsFrom(c *config.Config) (api.Settings, error) {
	legs, err := c.Legs()
	if err != nil {
		return api.Settings{}, err
	}
	tf := market.Timeframe(c.DefaultTimeframe)
	if _, err := tf.Duration(); err != nil {
		return api.Settings{}, err
	}
	return api.Settings{
		Legs:                  legs,
		CandleLookback:        c.SLMode.CandleLookback,
		HighOffsetPoints:      c.Breakout.HighOffsetPoints,
		LowOffsetPoints:       c.Breakout.LowOffsetPoints,
		BreakevenOffsetPoints: c.BreakevenOffsetPoints,
		Timeframe:             tf,
	}, nil
}
