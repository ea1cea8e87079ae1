package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/errdefs"
)

// DefaultTimeout bounds a single gateway or feed call.
const DefaultTimeout = 3 * time.Second

// Call runs fn under a per-call deadline. A deadline overrun, or any error the
// gateway has not already classified, comes back as ErrGatewayUnavailable so
// the caller can skip the operation for this cycle.
//
// Call returns at the deadline even when fn ignores its context. fn then
// finishes in the background and its result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-cctx.Done():
		select {
		case r = <-done:
		default:
			var zero T
			return zero, classify(ctx, op, cctx.Err())
		}
	}
	if r.err == nil {
		return r.v, nil
	}
	return r.v, classify(ctx, op, r.err)
}

// Do is Call for operations with no result.
func Do(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	_, err := Call(ctx, timeout, op, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

func classify(parent context.Context, op string, err error) error {
	switch {
	case errors.Is(err, errdefs.ErrGatewayRejected),
		errors.Is(err, errdefs.ErrGatewayUnavailable),
		errors.Is(err, errdefs.ErrMarketDataUnavailable),
		errors.Is(err, errdefs.ErrInvalidSymbol):
		return fmt.Errorf("%s: %w", op, err)
	case parent.Err() != nil:
		// The caller cancelled; that is not a gateway fault.
		return fmt.Errorf("%s: %w", op, errors.Join(errdefs.ErrCancelled, err))
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: timed out: %w", op, errdefs.ErrGatewayUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, errors.Join(errdefs.ErrGatewayUnavailable, err))
	}
}
