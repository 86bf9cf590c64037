// Package retry runs operations with exponential backoff and extracts JSON
// from free-form generation output with one recovery attempt.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy controls backoff between attempts.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool

	// Sleep defaults to a context-aware timer. Tests replace it to observe delays.
	Sleep SleepFunc
	// Rand returns a value in [0,1) for jitter. Defaults to math/rand/v2.
	Rand   func() float64
	Logger *zap.Logger
}

// DefaultPolicy returns 3 retries, 1s base delay, 60s cap, base 2.0, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Delay returns the un-jittered delay before retry number attempt (0-based):
// min(base * exponential_base^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) jittered(attempt int) time.Duration {
	d := p.Delay(attempt)
	if !p.Jitter {
		return d
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return time.Duration(float64(d) * (0.5 + r()))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn up to MaxRetries+1 times. Retryable errors back off and retry;
// fatal errors and errors outside the retryable class return immediately.
// After the last attempt the last retryable error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if errs.IsFatal(err) || !errs.IsRetryable(err) {
			return zero, err
		}
		if attempt >= p.MaxRetries {
			logger.Error("retries exhausted",
				zap.String("op", op),
				zap.Int("max_retries", p.MaxRetries),
				zap.Error(err),
			)
			return zero, err
		}
		delay := p.jittered(attempt)
		logger.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}
