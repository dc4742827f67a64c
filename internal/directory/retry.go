package directory

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/crewtrack/crewtrack/internal/store"
)

// retryUnavailable retries a directory store read while it keeps failing
// with store.ErrUnavailable. The retry is bounded; the engine never
// infinite-retries a downstream outage, it surfaces the error to the
// caller after the attempts are spent.
func retryUnavailable[T any](ctx context.Context, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

// retryUnavailableErr is retryUnavailable for operations with no result.
func retryUnavailableErr(ctx context.Context, op func() error) error {
	_, err := retryUnavailable(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
