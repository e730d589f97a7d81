package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestRunWithTicker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 16)
	done := make(chan error, 1)

	interval := &Interval{Duration: 5 * time.Millisecond, Jitter: time.Millisecond}
	go func() {
		done <- RunWithTicker(ctx, interval, func(ctx context.Context) error {
			ticks <- struct{}{}
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWithTickerClampsJitter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 16)
	done := make(chan error, 1)

	// Jitter above the interval must not kill the loop.
	interval := &Interval{Duration: 5 * time.Millisecond, Jitter: time.Minute}
	go func() {
		done <- RunWithTicker(ctx, interval, func(ctx context.Context) error {
			ticks <- struct{}{}
			return nil
		})
	}()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick with clamped jitter")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWithTickerPropagatesError(t *testing.T) {
	boom := errors.New("boom")

	err := RunWithTicker(context.Background(), &Interval{Duration: time.Millisecond}, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestRunWithClock(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunWithClock(ctx, mock, time.Second, func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWithClockPropagatesError(t *testing.T) {
	mock := clock.NewMock()
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- RunWithClock(context.Background(), mock, time.Second, func(ctx context.Context) error {
			return boom
		})
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err := <-done:
			require.ErrorIs(t, err, boom)
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
