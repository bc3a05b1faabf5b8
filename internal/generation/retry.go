package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is exponential backoff with jitter for transient failures.
type RetryPolicy struct {
	MaxRetries    uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultRetryPolicy allows five attempts starting at one second, capped at
// thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 50}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn, retrying while it fails with a transient error. Other errors
// and context cancellation end the loop at once. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return err
		}
		if log != nil {
			log.WarnContext(ctx, "transient failure, backing off",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return retry.RetryableError(err)
	})
}
