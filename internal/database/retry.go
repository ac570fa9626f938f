package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultRetryAttempts  = 5
	DefaultRetryBaseDelay = 50 * time.Millisecond
	DefaultRetryMaxDelay  = 2 * time.Second
)

// RetryPolicy bounds how often a busy or locked store is retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryMaxDelay
	}
	return p
}

// withRetry runs fn until it succeeds, fails with anything other than ErrBusy, or the
// attempts are exhausted.
func withRetry(ctx context.Context, policy RetryPolicy, operation string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= max(policy.Attempts, 1); attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrBusy) || attempt >= policy.Attempts {
			return err
		}

		log.Debug().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Database busy; retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, policy.MaxDelay)
	}

	return lastErr
}
