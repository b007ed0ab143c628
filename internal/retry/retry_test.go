package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentStopsAndUnwraps(t *testing.T) {
	invalid := errors.New("invalid entry")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(invalid)
	})
	assert.Equal(t, invalid, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_OnRetryAndMaxDelay(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		OnRetry:     func(attempt int, err error) { seen = append(seen, attempt) },
	}

	start := time.Now()
	err := p.Do(context.Background(), func() error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []int{1, 2, 3}, seen, "no hook after the final attempt")
	assert.Less(t, time.Since(start), time.Second)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	wrapped := Permanent(errFlaky)
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, errFlaky)
	assert.Equal(t, errFlaky.Error(), wrapped.Error())

	assert.False(t, IsPermanent(errFlaky))
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
