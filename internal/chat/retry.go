package chat

import (
	"context"
	"time"

	"github.com/beaconai/beacon/internal/llm"
)

// Retry defaults: three attempts with exponential backoff starting at four
// seconds and capped at ten.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 4 * time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// RetryPolicy drives repeated generation attempts. IsRetryable decides
// whether an error is worth another attempt; permanent errors abort
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IsRetryable func(error) bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy treats transient provider errors as retryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		IsRetryable: llm.Transient,
	}
}

// Do runs fn until it succeeds, a permanent error occurs, attempts run out,
// or the context ends. It returns the last error observed.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = llm.Transient
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}
		if serr := sleep(ctx, p.delay(attempt)); serr != nil {
			return err
		}
	}
	return err
}

// delay doubles per attempt from BaseDelay up to MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
