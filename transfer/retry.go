package transfer

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a fixed number of times with a fixed delay.
// MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Retryable decides whether an error is worth another attempt; nil uses IsRetryable.
	Retryable func(err error) bool
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return attempt - 1, err
		}
		if err = op(attempt); err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt == attempts {
			return attempt, err
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return attempt, serr
		}
	}
	return attempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
