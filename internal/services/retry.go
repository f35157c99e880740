package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultExtractAttempts is how many times metadata extraction is tried.
const DefaultExtractAttempts = 3

// RetryPolicy bounds how often a flaky step is attempted. The zero value
// tries DefaultExtractAttempts times with a short exponential backoff.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return DefaultExtractAttempts
	}
	return p.Attempts
}

// backOff builds a context-aware exponential schedule allowing
// attempts-1 retries after the first try.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxInterval = 2 * time.Second
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up, or ctx is done. Wrap an error with backoff.Permanent to stop early.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		return op(attempt)
	}, p.backOff(ctx))
}
