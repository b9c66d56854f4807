package tx

import (
	"context"
	"fmt"
	"time"
)

// broadcastWithRetry runs send up to retries+1 times, doubling the wait
// between attempts. RPC nodes drop broadcasts transiently; the nonce is
// already reserved, so resending the same raw transaction is safe.
func broadcastWithRetry(ctx context.Context, retries int, backoff time.Duration, send func(context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				wait.Stop()
				return ctx.Err()
			case <-wait.C:
			}
			backoff *= 2
		}
		if err = send(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("broadcast after %d attempts: %w", retries+1, err)
}
