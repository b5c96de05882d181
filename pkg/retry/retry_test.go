package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/HermesGermany/galapagos-sub000/errors"
)

func fixed(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fixed(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	cause := errors.New("no servers available")
	attempts := 0
	err := Do(context.Background(), fixed(3), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	assert.NoError(t, Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	}))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fixed(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_OnRetryReportsBackoff(t *testing.T) {
	cfg := fixed(4)
	var delays []time.Duration
	var reported []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.Error(t, err)
		reported = append(reported, attempt)
		delays = append(delays, delay)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("timeout") })

	assert.Equal(t, []int{1, 2, 3}, reported)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)
}

func TestConfig_DelayCapsAndJitter(t *testing.T) {
	cfg, err := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}.normalized()
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(3))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(50))

	cfg.AddJitter = true
	for i := 0; i < 20; i++ {
		d := cfg.delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}

func TestConfig_Invalid(t *testing.T) {
	tests := []Config{
		{InitialDelay: -time.Second},
		{Multiplier: -1},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, cfg := range tests {
		err := Do(context.Background(), cfg, func() error {
			t.Fatal("fn must not run with an invalid config")
			return nil
		})
		assert.Error(t, err)
	}
}

func TestPresets(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, 3, def.MaxAttempts)

	conn := Connect()
	assert.Equal(t, 5, conn.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, conn.InitialDelay)
	assert.Equal(t, 10*time.Second, conn.MaxDelay)
}

func TestDo_ClassifiedErrorsStopImmediately(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"explicit non-retryable", NonRetryable(errors.New("bad")), 1},
		{"fatal", gerrors.WrapFatal(errors.New("boom"), "test", "op", "run"), 1},
		{"invalid", gerrors.WrapInvalid(gerrors.ErrInvalidConfig, "test", "op", "run"), 1},
		{"authorization", nats.ErrAuthorization, 1},
		{"transient", gerrors.WrapTransient(errors.New("timeout"), "test", "op", "run"), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), cfg, func() error {
				attempts++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.want, attempts)
		})
	}

	assert.Nil(t, NonRetryable(nil))
}
