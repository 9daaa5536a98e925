// Package retry re-runs fallible operations with exponential backoff.
//
// It is meant for calls where a transient network failure is plausible
// (uploads, job creation). Status polling and validation do not use it.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy describes how many times to try and how long to wait in between.
// Before retry i (0-based) the policy sleeps BackoffFactor^i * BaseUnit,
// with no jitter.
type Policy struct {
	MaxAttempts   int
	BackoffFactor float64
	BaseUnit      time.Duration

	// NewTimer supplies the timer used between attempts. Tests replace it
	// to record delays without sleeping; nil uses a real timer.
	NewTimer func() backoff.Timer
}

// New returns a Policy with a one-second base unit.
func New(maxAttempts int, backoffFactor float64) Policy {
	return Policy{MaxAttempts: maxAttempts, BackoffFactor: backoffFactor, BaseUnit: time.Second}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// schedule builds the deterministic exponential schedule for p.
func (p Policy) schedule() *backoff.ExponentialBackOff {
	base := p.BaseUnit
	if base <= 0 {
		base = time.Second
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          factor,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.schedule()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs op until it succeeds or MaxAttempts is reached. On exhaustion
// it returns the last error from op unchanged. If ctx is cancelled while
// waiting, ctx.Err() is returned instead.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.attempts()
	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(attempts-1)), ctx)

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	attempt := 0
	v, err := backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		attempt++
		return op(ctx)
	}, b, func(err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("maxAttempts", attempts).
			Dur("backoff", delay).
			Msg("Attempt failed, retrying")
	}, timer)

	switch {
	case err == nil:
		if attempt > 1 {
			log.Info().Str("operation", name).Int("attempt", attempt).Msg("Succeeded after retry")
		}
	case ctx.Err() == nil:
		log.Error().Err(err).Str("operation", name).Int("attempts", attempt).Msg("All attempts failed")
	}
	return v, err
}
