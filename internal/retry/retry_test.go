package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/errs"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(rec *sleepRecorder) Policy {
	p := DefaultPolicy()
	p.Jitter = false
	p.Sleep = rec.sleep
	return p
}

func TestDo_BackoffSequence(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	want := errs.Retryable(errs.RateLimit, "429", nil)

	_, err := Do(context.Background(), testPolicy(rec), "chat", func(context.Context) (string, error) {
		calls++
		return "", want
	})

	require.Error(t, err)
	assert.Same(t, want, err, "original retryable error must propagate")
	assert.Equal(t, 4, calls, "max_retries+1 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	got, err := Do(context.Background(), testPolicy(rec), "embed", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errs.Retryable(errs.Network, "reset", nil)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Len(t, rec.delays, 2)
}

func TestDo_FatalNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec), "chat", func(context.Context) (string, error) {
		calls++
		return "", errs.Fatal(errs.AuthError, "invalid key", nil)
	})
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_UnclassifiedErrorNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec), "chat", func(context.Context) (string, error) {
		calls++
		return "", errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_MaxDelayCap(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Second, ExponentialBase: 2}
	assert.Equal(t, 10*time.Second, p.Delay(0))
	assert.Equal(t, 15*time.Second, p.Delay(1))
	assert.Equal(t, 15*time.Second, p.Delay(5))
}

func TestDo_JitterBounds(t *testing.T) {
	p := DefaultPolicy()
	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.jittered(0))
	p.Rand = func() float64 { return 0.999999 }
	assert.InDelta(t, float64(1500*time.Millisecond), float64(p.jittered(0)), float64(time.Millisecond))
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultPolicy()
	p.BaseDelay = time.Hour
	_, err := Do(ctx, p, "chat", func(context.Context) (string, error) {
		return "", errs.Retryable(errs.Timeout, "slow", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
