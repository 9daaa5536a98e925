package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// recorder is a backoff.Timer that fires immediately and remembers
// every delay it was started with.
type recorder struct {
	delays []time.Duration
	c      chan time.Time
}

func (r *recorder) Start(d time.Duration) {
	r.delays = append(r.delays, d)
	r.c = make(chan time.Time, 1)
	r.c <- time.Now()
}

func (r *recorder) Stop() {}

func (r *recorder) C() <-chan time.Time { return r.c }

func (r *recorder) timer() backoff.Timer { return r }

type netError struct{ msg string }

func (e *netError) Error() string { return e.msg }

func TestDo_ExhaustionReturnsOriginalError(t *testing.T) {
	rec := &recorder{}
	p := New(3, 2.0)
	p.NewTimer = rec.timer

	original := &netError{msg: "connection reset"}
	calls := 0
	err := p.Do(context.Background(), "upload", func(ctx context.Context) error {
		calls++
		return original
	})

	if err != original {
		t.Fatalf("expected the original error value, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("sleeps = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("sleep[%d] = %s, want %s", i, rec.delays[i], want[i])
		}
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	rec := &recorder{}
	p := New(3, 2.0)
	p.NewTimer = rec.timer

	calls := 0
	err := p.Do(context.Background(), "create", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("503")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(rec.delays) != 1 {
		t.Errorf("calls=%d sleeps=%d, want 2 and 1", calls, len(rec.delays))
	}
}

func TestDoValue(t *testing.T) {
	p := New(2, 2.0)
	p.NewTimer = (&recorder{}).timer

	calls := 0
	v, err := DoValue(context.Background(), p, "create", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "task-1", nil
	})
	if err != nil || v != "task-1" {
		t.Errorf("DoValue = %q, %v", v, err)
	}
}

func TestDo_SingleAttemptNeverSleeps(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 1, BackoffFactor: 2, NewTimer: rec.timer}
	_ = p.Do(context.Background(), "op", func(ctx context.Context) error { return errors.New("x") })
	if len(rec.delays) != 0 {
		t.Errorf("sleeps = %v, want none", rec.delays)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BackoffFactor: 2, BaseUnit: time.Hour}

	calls := 0
	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelay(t *testing.T) {
	p := Policy{BackoffFactor: 3, BaseUnit: 100 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i, got, w)
		}
	}
}

func TestDo_NoJitter(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 5, BackoffFactor: 1.5, BaseUnit: 100 * time.Millisecond, NewTimer: rec.timer}

	_ = p.Do(context.Background(), "op", func(ctx context.Context) error { return errors.New("x") })

	want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 225 * time.Millisecond, 337500 * time.Microsecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("sleeps = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("sleep[%d] = %s, want %s", i, rec.delays[i], want[i])
		}
	}
}
