// Package orders runs the per-order pipeline: load the detail page, filter
// by payment method, locate the invoices, and fetch each one, retrying
// transient failures a bounded number of times.
package orders

import (
	"context"
	"time"
)

// Policy bounds how many times an order is attempted and how long to wait
// between attempts. Sleep is injectable so tests do not sit through real
// delays.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy matches the pacing the storefront tolerates: three attempts,
// five seconds apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
	}
}

// Do runs op until it returns nil or attempts run out, sleeping Delay
// between attempts. The last error is returned when every attempt failed;
// context cancellation stops the ring immediately.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt < p.MaxAttempts {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
