package channels

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// SendLimiter token-bucket shapes outbound sends to a channel so a burst of
// assistant replies (e.g. a worker completion bridge firing alongside a
// scheduled check) doesn't trip a platform's own rate limit.
type SendLimiter struct {
	limiter *rate.Limiter
}

// NewSendLimiter builds a limiter allowing burst immediate sends and then
// ratePerSecond sustained.
func NewSendLimiter(ratePerSecond float64, burst int) *SendLimiter {
	return &SendLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a send token is available or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RetryRecoverable retries fn with jittered exponential backoff as long as
// it returns a recoverable error (per the §4.11 Telegram error taxonomy),
// up to maxAttempts. A permanent error, or exhausting maxAttempts, returns
// immediately.
func RetryRecoverable(ctx context.Context, maxAttempts int, fn func() error) error {
	backoff := 500 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRecoverable(err) || IsPermanent(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return err
}
