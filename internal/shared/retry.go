package shared

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryTransient runs fn, retrying up to maxRetries extra attempts with
// exponential backoff when the failure classifies as Transient. Any other
// error is returned immediately.
func RetryTransient(ctx context.Context, maxRetries uint64, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if Transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
