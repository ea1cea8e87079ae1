package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallPassesResult(t *testing.T) {
	t.Parallel()

	got, err := Call(context.Background(), time.Second, "quote", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCallTimeoutIsGatewayUnavailable(t *testing.T) {
	t.Parallel()

	err := Do(context.Background(), 10*time.Millisecond, "submit", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "submit")
}

func TestCallReturnsWhenGatewayIgnoresContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cancel  bool
		wantErr error
		notErr  error
	}{
		{"deadline", false, errdefs.ErrGatewayUnavailable, errdefs.ErrCancelled},
		{"parent cancelled", true, errdefs.ErrCancelled, errdefs.ErrGatewayUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			timeout := 20 * time.Millisecond
			if tt.cancel {
				timeout = time.Second
				time.AfterFunc(20*time.Millisecond, cancel)
			}

			start := time.Now()
			got, err := Call(ctx, timeout, "quote", func(context.Context) (int, error) {
				time.Sleep(500 * time.Millisecond)
				return 42, nil
			})
			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.Zero(t, got)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, tt.notErr)
		})
	}
}

func TestCallKeepsClassifiedErrors(t *testing.T) {
	t.Parallel()

	err := Do(context.Background(), time.Second, "submit", func(context.Context) error {
		return errdefs.ErrGatewayRejected
	})
	assert.ErrorIs(t, err, errdefs.ErrGatewayRejected)
	assert.NotErrorIs(t, err, errdefs.ErrGatewayUnavailable)
}

func TestCallWrapsUnknownErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("pipe closed")
	err := Do(context.Background(), time.Second, "positions", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, errdefs.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestCallParentCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, time.Second, "submit", func(c context.Context) error {
		return c.Err()
	})
	assert.ErrorIs(t, err, errdefs.ErrCancelled)
	assert.NotErrorIs(t, err, errdefs.ErrGatewayUnavailable)
}

func TestOrderTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "market", Market.String())
	assert.Equal(t, "buy_stop", BuyStop.String())
	assert.Equal(t, "sell_stop", SellStop.String())
}
