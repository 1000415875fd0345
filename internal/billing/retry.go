package billing

import (
	"context"
	"net/http"
	"time"
)

const maxRetryDelay = 30 * time.Second

type attemptFunc func() (status int, body []byte, err error)

// doWithRetry repeats fn on transport errors, 429 and 5xx answers, doubling
// the delay between attempts. The last attempt's result is returned as is.
func doWithRetry(ctx context.Context, attempts int, delay time.Duration, fn attemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}
	var (
		status int
		body   []byte
		err    error
	)
	for i := 0; i < attempts; i++ {
		status, body, err = fn()
		if err == nil && !retryable(status) {
			return status, body, nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return status, body, err
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
