package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff policy usable by any external call
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	// Jitter is the maximum extra delay as a fraction of the computed delay
	Jitter float64
	// Retryable decides whether an error is worth another attempt. nil retries everything not marked Permanent.
	Retryable func(error) bool
	// Sleep waits between attempts. nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries up to 3 attempts with 1s, 2s backoff and up to 20% jitter
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		Jitter:      0.2,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait before the given retry (1-based), without jitter
func (p Policy) Delay(retry int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(retry-1)))
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The returned error wraps the last failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if IsPermanent(err) || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter > 0 {
			delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
		}
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(err, serr))
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
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
