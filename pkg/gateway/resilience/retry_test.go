package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestDo_RetriesRetryableErrorUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_DoesNotRetryPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return errors.New("content policy violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastRetryConfig(), func(context.Context) error {
		attempts++
		return Retryable(errors.New("still failing"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(Retryable(errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}
