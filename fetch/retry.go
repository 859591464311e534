package fetch

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const defaultDelay = 2 * time.Second

// Sleeper waits between retry attempts. Tests substitute a no-op.
type Sleeper func(ctx context.Context, d time.Duration) error

// FixedDelay sleeps for a fixed duration, honoring cancellation.
func FixedDelay(d time.Duration) Sleeper {
	return func(ctx context.Context, _ time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// withRetry runs fn up to Retries+1 times with a fixed delay between
// attempts. Permanent errors escalate immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.Delay
	if delay == nil {
		delay = FixedDelay(defaultDelay)
	}
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			c.Log.Warn().Str("op", op).Int("attempt", attempt).Msg("retrying")
			if err := delay(ctx, 0); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		lastErr = err
	}
	return errors.Wrapf(lastErr, "%s failed after %d attempt(s)", op, c.Retries+1)
}
