package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		WindowSize:      time.Second,
		BucketCount:      10,
		ErrorThreshold:   0.5,
		VolumeThreshold:  4,
		SleepWindow:      20 * time.Millisecond,
		MaxSleepWindow:   200 * time.Millisecond,
	}
}

func TestBreaker_TripsAfterThresholdBreached(t *testing.T) {
	b := New("model-a", testConfig())
	always := func(error) bool { return true }

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), always, func(context.Context) error {
			return errors.New("boom")
		})
		assert.Error(t, err)
	}
	err := b.Execute(context.Background(), always, func(context.Context) error { return errors.New("boom") })
	assert.Error(t, err)

	assert.Equal(t, StateOpen, b.State())

	err = b.Execute(context.Background(), always, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	b := New("model-b", testConfig())
	always := func(error) bool { return true }

	for i := 0; i < 4; i++ {
		_ = b.Execute(context.Background(), always, func(context.Context) error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Execute(context.Background(), always, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_NonCountableErrorsDoNotTrip(t *testing.T) {
	b := New("model-c", testConfig())
	never := func(error) bool { return false }

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), never, func(context.Context) error {
			return errors.New("content policy rejection")
		})
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestManager_ReturnsSameBreakerPerModel(t *testing.T) {
	m := NewManager(testConfig())
	a1 := m.For("model-a")
	a2 := m.For("model-a")
	b1 := m.For("model-b")
	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
}
