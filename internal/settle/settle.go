// Package settle polls readiness predicates instead of sleeping for a fixed
// duration after each browser action.
package settle

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the budget elapses before the
// predicate holds.
var ErrTimeout = errors.New("condition not met before timeout")

// Predicate reports whether the awaited condition holds. A non-nil error is
// treated as "not yet" and retained as the last observed failure.
type Predicate func(ctx context.Context) (bool, error)

// Until polls fn every interval until it returns true, ctx is done, or
// timeout elapses. The predicate is evaluated once immediately. On timeout the
// returned error wraps ErrTimeout and, when available, the predicate's last
// error.
func Until(ctx context.Context, interval, timeout time.Duration, fn Predicate) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := fn(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return errors.Join(ErrTimeout, lastErr)
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Stable polls read until two consecutive reads return the same value, or the
// budget runs out. It returns the last value read; running out of budget is
// not an error because a value that keeps changing is still a valid read.
func Stable[T comparable](ctx context.Context, interval, budget time.Duration, read func(context.Context) (T, error)) (T, error) {
	prev, err := read(ctx)
	if err != nil {
		return prev, err
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return prev, ctx.Err()
		case <-time.After(interval):
		}
		cur, err := read(ctx)
		if err != nil {
			return cur, err
		}
		if cur == prev {
			return cur, nil
		}
		prev = cur
	}
	return prev, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
