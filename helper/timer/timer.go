package timer

import (
	"context"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lthibault/jitterbug/v2"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

type tickerJitter struct {
	MaxJitter time.Duration
}

func (j tickerJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter == 0 {
		return d
	}

	return d + (time.Duration(rand.Int63n(int64(2*j.MaxJitter))) - j.MaxJitter)
}

// Runs the provided function periodically with a given duration. Exits when a context is cancelled or when f() returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	// A jitter at or above the period would allow a zero or negative tick.
	jitter := interval.Jitter
	if jitter >= interval.Duration {
		log.Warnf("RunWithTicker: jitter %v too large for interval %v, clamping", jitter, interval.Duration)
		jitter = interval.Duration / 2
	}

	// Create a new jitterbug ticker
	j := jitterbug.New(interval.Duration, &tickerJitter{MaxJitter: jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C: // Use the jitterbug ticker's channel
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}

// RunWithClock is RunWithTicker on an injectable clock and without jitter.
// Tests drive it with a mock clock.
func RunWithClock(ctx context.Context, clk clock.Clock, every time.Duration, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	t := clk.Ticker(every)
	defer t.Stop()

	log.Debugf("RunWithClock: running %s every %v", funcName, every)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithClock: context cancelled for %s", funcName)
			return ctx.Err()
		case <-t.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithClock: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}
