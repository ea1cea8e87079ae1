// Package replay drives a paper broker from a recorded tick file so the
// control loop can run end to end without a live terminal.
//
// CSV formats supported:
//
//  1. Basic ticks:
//     time,symbol,bid,ask
//
//  2. Ticks + events:
//     time,symbol,bid,ask,event,arg1,arg2,arg3,arg4,arg5
//
// Events (case-insensitive) stand in for trades the operator places by hand:
//
//	OPEN:       arg1=symbol arg2=buy|sell arg3=volume [arg4=stopLoss] [arg5=takeProfit]
//	CLOSE:      arg1=ticket
//	CLOSE_ALL:  no args
//
// The tick is applied before its event, so OPEN fills and CLOSE_ALL closes at
// that row's prices.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
)

// Row is one parsed line of a replay file.
type Row struct {
	Quote market.Quote
	Event string
	Args  []string
}

// Engine is what a replay drives: the paper broker satisfies it.
type Engine interface {
	broker.Gateway
	SetQuote(q market.Quote) error
	SetCandles(symbol string, candles []market.Candle)
}

type Options struct {
	// Timeframe of the candle series built from the ticks.
	Timeframe market.Timeframe
	// Bars caps the number of candles kept per symbol.
	Bars int
	// Speed scales the recorded gaps between rows; zero replays without pause.
	Speed float64
}

const defaultBars = 200

// Load parses a replay file. A header row starting with "time" is skipped.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var rows []Row
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (Row, error) {
	// Minimum tick columns: time,symbol,bid,ask
	if len(rec) < 4 {
		return Row{}, fmt.Errorf("bad row (need at least 4 cols time,symbol,bid,ask): %v", rec)
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
	if err != nil {
		return Row{}, fmt.Errorf("bad time %q: %w", rec[0], err)
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad bid %q: %w", rec[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad ask %q: %w", rec[3], err)
	}

	row := Row{Quote: market.Quote{Symbol: strings.TrimSpace(rec[1]), Bid: bid, Ask: ask, Time: t}}
	if !row.Quote.Valid() {
		return Row{}, fmt.Errorf("bad quote %.5f/%.5f", bid, ask)
	}
	if len(rec) >= 5 {
		row.Event = strings.ToUpper(strings.TrimSpace(rec[4]))
	}
	for _, a := range rec[min(len(rec), 5):] {
		row.Args = append(row.Args, strings.TrimSpace(a))
	}
	return row, nil
}

// Player feeds rows into an Engine and exposes the replayed time as a clock.
type Player struct {
	rows []Row
	eng  Engine
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	now     time.Time
	candles map[string]*series
}

func NewPlayer(rows []Row, eng Engine, opts Options, log *slog.Logger) *Player {
	if opts.Timeframe == "" {
		opts.Timeframe = market.M1
	}
	if opts.Bars <= 0 {
		opts.Bars = defaultBars
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Player{rows: rows, eng: eng, opts: opts, log: log, candles: make(map[string]*series)}
	if len(rows) > 0 {
		p.now = rows[0].Quote.Time
	}
	return p
}

// Now is the time of the last applied row, or of the first row before the
// replay starts.
func (p *Player) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Run applies every row in order. Event failures are logged and skipped; a
// bad tick stops the replay.
func (p *Player) Run(ctx context.Context) error {
	bar, err := p.opts.Timeframe.Duration()
	if err != nil {
		return err
	}

	var prev time.Time
	for i, row := range p.rows {
		if p.opts.Speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(row.Quote.Time.Sub(prev)) / p.opts.Speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		prev = row.Quote.Time

		if err := p.apply(ctx, row, bar); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	p.log.Info("replay finished", "rows", len(p.rows))
	return nil
}

func (p *Player) apply(ctx context.Context, row Row, bar time.Duration) error {
	p.mu.Lock()
	p.now = row.Quote.Time
	s, ok := p.candles[row.Quote.Symbol]
	if !ok {
		s = &series{bar: bar, max: p.opts.Bars}
		p.candles[row.Quote.Symbol] = s
	}
	s.add(row.Quote)
	bars := s.snapshot()
	p.mu.Unlock()

	p.eng.SetCandles(row.Quote.Symbol, bars)
	if err := p.eng.SetQuote(row.Quote); err != nil {
		return err
	}

	if row.Event == "" {
		return nil
	}
	if err := p.handleEvent(ctx, row); err != nil {
		p.log.Warn("replay event failed", "event", row.Event, "args", row.Args, "err", err)
	}
	return nil
}

func (p *Player) handleEvent(ctx context.Context, row Row) error {
	switch row.Event {
	case "OPEN":
		// OPEN,EURUSD,buy,0.10,1.0980,1.1050
		req, err := parseOpenArgs(row.Args)
		if err != nil {
			return fmt.Errorf("OPEN: %w", err)
		}
		ticket, err := p.eng.SubmitOrder(ctx, req)
		if err != nil {
			return err
		}
		p.log.Info("replay opened position", "ticket", ticket, "symbol", req.Symbol, "direction", req.Direction, "volume", req.Volume)
		return nil

	case "CLOSE":
		// CLOSE,<ticket>
		if len(row.Args) < 1 || row.Args[0] == "" {
			return fmt.Errorf("CLOSE: missing ticket")
		}
		n, err := strconv.ParseUint(row.Args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("CLOSE: bad ticket %q: %w", row.Args[0], err)
		}
		return p.eng.ClosePosition(ctx, broker.Ticket(n))

	case "CLOSE_ALL":
		positions, err := p.eng.OpenPositions(ctx, nil)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if err := p.eng.ClosePosition(ctx, pos.Ticket); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown event %q", row.Event)
	}
}

func parseOpenArgs(args []string) (broker.OrderRequest, error) {
	if len(args) < 3 {
		return broker.OrderRequest{}, fmt.Errorf("need arg1=symbol arg2=direction arg3=volume")
	}
	req := broker.OrderRequest{Symbol: args[0], Type: broker.Market, Comment: "replay"}
	if req.Symbol == "" {
		return req, fmt.Errorf("symbol is empty")
	}

	dir, err := market.ParseDirection(args[1])
	if err != nil {
		return req, err
	}
	req.Direction = dir

	req.Volume, err = strconv.ParseFloat(args[2], 64)
	if err != nil {
		return req, fmt.Errorf("bad volume %q: %w", args[2], err)
	}
	if req.Volume <= 0 {
		return req, fmt.Errorf("volume must be positive")
	}

	if len(args) >= 4 && args[3] != "" {
		sl, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return req, fmt.Errorf("bad stopLoss %q: %w", args[3], err)
		}
		req.StopLoss = &sl
	}
	if len(args) >= 5 && args[4] != "" {
		tp, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return req, fmt.Errorf("bad takeProfit %q: %w", args[4], err)
		}
		req.TakeProfit = &tp
	}
	return req, nil
}
