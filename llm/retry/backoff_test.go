package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	r := New(fastPolicy(2), zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("always")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := fastPolicy(5)
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }
	r := New(p, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Hour // force the wait branch
	r := New(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error { return errors.New("transient") })
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryCallback(t *testing.T) {
	p := fastPolicy(2)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := New(p, zap.NewNop())
	_ = r.Do(context.Background(), func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}
