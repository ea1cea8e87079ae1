package journal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

const DefaultBuffer = 256

type entry struct {
	ev   *risk.Event
	deal *broker.Deal
}

// Async adapts a Journal to risk.Recorder. Entries are queued and written by a
// single goroutine; when the queue is full the entry is dropped and counted.
type Async struct {
	j       Journal
	log     *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex // guards closed against the send in enqueue
	closed  bool
	ch      chan entry
	done    chan struct{}
	dropped atomic.Int64
}

var _ risk.Recorder = (*Async)(nil)

func NewAsync(j Journal, buffer int, log *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Async{
		j:       j,
		log:     log,
		timeout: 5 * time.Second,
		ch:      make(chan entry, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) RecordEvent(ev risk.Event) {
	a.enqueue(entry{ev: &ev})
}

func (a *Async) RecordDeal(d broker.Deal) {
	a.enqueue(entry{deal: &d})
}

// Dropped returns how many entries were discarded because the queue was full
// or the recorder was closed.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) enqueue(e entry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
		a.log.Warn("journal queue full, entry dropped", "dropped", a.dropped.Load())
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.ch {
		a.write(e)
	}
}

func (a *Async) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	switch {
	case e.ev != nil:
		if err := a.j.RecordEvent(ctx, *e.ev); err != nil {
			a.log.Error("journal event write failed", "event_id", e.ev.ID, "kind", e.ev.Kind, "err", err)
		}
	case e.deal != nil:
		if err := a.j.RecordDeal(ctx, *e.deal); err != nil {
			a.log.Error("journal deal write failed", "deal_id", e.deal.ID, "err", err)
		}
	}
}

// Close stops accepting entries, drains the queue and closes the journal.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return a.j.Close()
}
