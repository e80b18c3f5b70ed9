package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/your-org/thumbflow/pkg/apperr"
)

// Policy bounds local retries of transient write failures.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a component is built without one.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// policy runs out of attempts. Only apperr.ErrTransient failures are retried.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err != nil && !apperr.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
