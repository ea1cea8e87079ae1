package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

// blockingJournal holds every write until release is closed.
type blockingJournal struct {
	release chan struct{}

	mu     sync.Mutex
	events []risk.Event
	deals  []broker.Deal
	closed bool
}

func (b *blockingJournal) RecordEvent(_ context.Context, ev risk.Event) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *blockingJournal) RecordDeal(_ context.Context, d broker.Deal) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deals = append(b.deals, d)
	return nil
}

func (b *blockingJournal) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestAsyncDrainsOnClose(t *testing.T) {
	t.Parallel()

	j := &blockingJournal{release: make(chan struct{})}
	close(j.release)

	a := NewAsync(j, 8, nil)
	a.RecordEvent(event("01A", time.Hour, risk.ManualOverride))
	a.RecordDeal(closedDeal("D1", 1, time.Hour, 5))
	require.NoError(t, a.Close())

	assert.Len(t, j.events, 1)
	assert.Len(t, j.deals, 1)
	assert.True(t, j.closed)
	assert.Zero(t, a.Dropped())

	// no panic and no write after close
	a.RecordEvent(event("01B", time.Hour, risk.ManualOverride))
	assert.Equal(t, int64(1), a.Dropped())
	assert.NoError(t, a.Close())
}

func TestAsyncNeverBlocks(t *testing.T) {
	t.Parallel()

	j := &blockingJournal{release: make(chan struct{})}
	a := NewAsync(j, 2, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			a.RecordEvent(event("01A", time.Hour, risk.AutoClose))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordEvent blocked on a stalled journal")
	}

	// one entry may be held by the writer, two sit in the queue
	assert.GreaterOrEqual(t, a.Dropped(), int64(7))

	close(j.release)
	require.NoError(t, a.Close())
	assert.Equal(t, int64(10), a.Dropped()+int64(len(j.events)))
}

func TestAsyncWithSQLite(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	a := NewAsync(j, 0, nil)

	q, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	a.RecordEvent(event("01A", time.Hour, risk.LossLimitBreach))
	require.NoError(t, a.Close())

	got, err := q.ListEvents(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, risk.LossLimitBreach, got[0].Kind)
}
