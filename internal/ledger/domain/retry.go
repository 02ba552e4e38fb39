package domain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds how often a conflicting read-modify-write is re-executed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
}

// RetryOnConflict runs fn until it returns something other than a retryable
// error. fn must re-read all state it depends on.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, retryable func(error) bool, onConflict func(attempt int, err error), fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStoreConflict) && (retryable == nil || !retryable(err)) {
			return err
		}
		lastErr = err
		if onConflict != nil {
			onConflict(attempt, err)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(policy, attempt)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflictRetriesExhausted, attempts, lastErr)
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.BaseDelay <= 0 {
		return 0
	}
	delay := policy.BaseDelay << (attempt - 1)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	// jitter keeps concurrent writers from retrying in lockstep
	return delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
}
