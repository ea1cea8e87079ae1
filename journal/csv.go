package journal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

var (
	eventHeader = []string{"event_id", "time", "day", "kind", "message", "payload"}
	dealHeader  = []string{"deal_id", "ticket", "symbol", "direction", "volume", "open_price", "close_price", "close_time", "profit", "comment"}
)

// CSV appends events and deals to two files. Headers are written only when a
// file is created empty.
type CSV struct {
	mu     sync.Mutex
	events *csv.Writer
	deals  *csv.Writer
	ef, df *os.File
}

var _ Journal = (*CSV)(nil)

func NewCSV(eventsPath, dealsPath string) (*CSV, error) {
	ef, ew, err := openAppend(eventsPath, eventHeader)
	if err != nil {
		return nil, err
	}
	df, dw, err := openAppend(dealsPath, dealHeader)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}
	return &CSV{events: ew, deals: dw, ef: ef, df: df}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
	}
	return f, w, nil
}

func (j *CSV) RecordEvent(_ context.Context, ev risk.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	err = j.events.Write([]string{
		ev.ID,
		ev.Time.UTC().Format(time.RFC3339Nano),
		ev.Day,
		string(ev.Kind),
		ev.Message,
		string(payload),
	})
	if err != nil {
		return err
	}
	j.events.Flush()
	return j.events.Error()
}

func (j *CSV) RecordDeal(_ context.Context, d broker.Deal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.deals.Write([]string{
		d.ID,
		strconv.FormatUint(uint64(d.Ticket), 10),
		d.Symbol,
		d.Direction.String(),
		f(d.Volume),
		f(d.OpenPrice),
		f(d.ClosePrice),
		d.CloseTime.UTC().Format(time.RFC3339),
		f(d.Profit),
		d.Comment,
	})
	if err != nil {
		return err
	}
	j.deals.Flush()
	return j.deals.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events.Flush()
	j.deals.Flush()
	return errors.Join(j.events.Error(), j.deals.Error(), j.ef.Close(), j.df.Close())
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
