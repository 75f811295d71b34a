package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrPollExhausted is returned when a poll ran out of attempts without reaching a terminal state
var ErrPollExhausted = errors.New("poll attempts exhausted")

// PollConfig bounds a polling or retry loop
type PollConfig struct {
	Interval    time.Duration // delay before the second attempt
	MaxAttempts int           // 0 means bounded only by the context
	Multiplier  float64       // backoff multiplier, <= 1 keeps the interval fixed
	MaxInterval time.Duration // upper bound of the grown interval, 0 means unbounded
}

func (c PollConfig) next(current time.Duration) time.Duration {
	if c.Multiplier <= 1 {
		return current
	}
	grown := time.Duration(float64(current) * c.Multiplier)
	if c.MaxInterval > 0 && grown > c.MaxInterval {
		return c.MaxInterval
	}
	return grown
}

// Poll calls fn until it reports done, returns an error, the attempts run out or ctx ends.
// The first attempt runs immediately.
func Poll(ctx context.Context, cfg PollConfig, fn func(ctx context.Context, attempt int) (bool, error)) error {
	interval := cfg.Interval
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "poll cancelled")
		}

		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			break
		}
		if err := Sleep(ctx, interval); err != nil {
			return errors.Wrap(err, "poll cancelled")
		}
		interval = cfg.next(interval)
	}

	return ErrPollExhausted
}

// Retry calls fn until it succeeds or returns an error retryable rejects.
// The last error is returned once the attempts run out.
func Retry(ctx context.Context, cfg PollConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	err := Poll(ctx, cfg, func(ctx context.Context, _ int) (bool, error) {
		lastErr = fn(ctx)
		if lastErr == nil {
			return true, nil
		}
		if !retryable(lastErr) {
			return false, lastErr
		}
		return false, nil
	})
	if errors.Is(err, ErrPollExhausted) && lastErr != nil {
		return lastErr
	}
	return err
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
