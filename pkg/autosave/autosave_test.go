package autosave

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_ValidatesExpression(t *testing.T) {
	_, err := NewScheduler("not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)

	s, err := NewScheduler("*/15 * * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	next, err := s.Next(time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	var calls atomic.Int32
	s, err := NewScheduler("@hourly", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, int32(0), calls.Load())

	s.MarkDirty()
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, s.Dirty())
	assert.Equal(t, 1, s.Saves())
}

func TestFlush_FailureStaysDirty(t *testing.T) {
	s, err := NewScheduler("* * * * *", func(context.Context) error { return errors.New("disk full") })
	require.NoError(t, err)

	s.MarkDirty()
	assert.Error(t, s.Flush(context.Background()))
	assert.True(t, s.Dirty())
	assert.Equal(t, 0, s.Saves())
}

func TestRun_SavesOnTickAndOnStop(t *testing.T) {
	var calls atomic.Int32
	ticks := make(chan time.Time)
	var waits []time.Duration
	now := time.Date(2026, 3, 1, 10, 0, 10, 0, time.UTC)

	s, err := NewScheduler("* * * * *",
		func(context.Context) error {
			calls.Add(1)
			return nil
		},
		WithClock(func() time.Time { return now }),
		WithTimer(func(d time.Duration) <-chan time.Time {
			waits = append(waits, d)
			return ticks
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.MarkDirty()
	ticks <- now
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ticks <- now // clean tick, nothing to save
	s.MarkDirty()
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), calls.Load(), "stop flushes pending changes")
	require.NotEmpty(t, waits)
	assert.Equal(t, 50*time.Second, waits[0])
}

func TestRun_FailedTickRetriesOnNextTick(t *testing.T) {
	var calls atomic.Int32
	ticks := make(chan time.Time)
	s, err := NewScheduler("* * * * *",
		func(context.Context) error {
			if calls.Add(1) == 1 {
				return errors.New("disk full")
			}
			return nil
		},
		WithTimer(func(time.Duration) <-chan time.Time { return ticks }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.MarkDirty()
	ticks <- time.Now()
	assert.Eventually(t, func() bool { return calls.Load() == 1 && s.Dirty() }, time.Second, 5*time.Millisecond,
		"failed save keeps changes pending")

	ticks <- time.Now()
	assert.Eventually(t, func() bool { return s.Saves() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Dirty())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), calls.Load())
}
