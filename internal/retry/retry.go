// Package retry holds the single backoff policy used for transient agent
// failures such as provider rate limits.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Policy retries an operation while its error is retryable. The wait before
// retry n (1-based) is n × BaseDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool

	// Sleep replaces the context-aware timer in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Wait returns the delay before the given retry attempt.
func (p Policy) Wait(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt cap is reached. The last error is returned. A cancelled context
// during a wait returns the context error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	// made counts calls; the wait after the n-th failure is Wait(n).
	made := 0
	return retrygo.Do(
		func() error {
			made++
			return fn(ctx)
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return p.Retryable != nil && p.Retryable(err)
		}),
		retrygo.DelayType(func(uint, error, *retrygo.Config) time.Duration {
			return p.Wait(made)
		}),
		retrygo.OnRetry(func(_ uint, err error) {
			if p.OnRetry != nil && made < attempts {
				p.OnRetry(made, p.Wait(made), err)
			}
		}),
		retrygo.WithTimer(sleepTimer{ctx: ctx, sleep: sleep}),
	)
}

// sleepTimer drives retry-go's waits through a context-aware sleep. When
// the sleep is cut short by ctx the channel never fires and retry-go
// returns on ctx.Done instead.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
}

func (t sleepTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err == nil || t.ctx.Err() == nil {
		ch <- time.Now()
	}
	return ch
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
