package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Jitter = 0
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name       string
		failures   int
		err        error
		wantCalls  int
		wantErr    bool
		wantDelays []time.Duration
	}{
		{
			name:       "First attempt succeeds",
			failures:   0,
			wantCalls:  1,
			wantDelays: nil,
		},
		{
			name:       "Succeeds on third attempt",
			failures:   2,
			err:        errBoom,
			wantCalls:  3,
			wantDelays: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "Exhausts attempts",
			failures:   10,
			err:        errBoom,
			wantCalls:  3,
			wantErr:    true,
			wantDelays: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "Permanent errors are not retried",
			failures:   10,
			err:        Permanent(errBoom),
			wantCalls:  1,
			wantErr:    true,
			wantDelays: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			calls := 0
			err := Do(context.Background(), recordingPolicy(&delays), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantDelays, delays)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errBoom)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_RetryableFilter(t *testing.T) {
	errFatal := errors.New("fatal")
	var delays []time.Duration
	p := recordingPolicy(&delays)
	p.Retryable = func(err error) bool { return !errors.Is(err, errFatal) }

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultPolicy()
	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_JitterBounded(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)
	p.Jitter = 0.2

	_ = Do(context.Background(), p, func(context.Context) error { return errors.New("x") })

	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], time.Second)
	assert.LessOrEqual(t, delays[0], 1200*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], 2*time.Second)
	assert.LessOrEqual(t, delays[1], 2400*time.Millisecond)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := errors.New("auth")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
