package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 3 * time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), s.bucketStart(now))

	onBoundary := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), s.nextTick(onBoundary))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Hour), s.nextTick(now))
	assert.Equal(t, now, s.bucketStart(now))
}

func TestRunKeepsGoingAfterFailedTick(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("source down")
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run before the startup delay")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
