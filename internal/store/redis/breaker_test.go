package redis

import (
	"errors"
	"testing"
	"time"
)

var errProbe = errors.New("probe failure")

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	fail := func() error { return errProbe }
	for i := 0; i < 3; i++ {
		if err := b.Do(fail); !errors.Is(err, errProbe) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// While open, calls are rejected without running fn.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if ran {
		t.Error("fn ran while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Do(func() error { return errProbe })
	b.Do(func() error { return errProbe })
	b.Do(func() error { return nil }) // resets the streak
	b.Do(func() error { return errProbe })
	b.Do(func() error { return errProbe })

	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	var shifts []BreakerState
	b.OnStateChange = func(from, to BreakerState) {
		shifts = append(shifts, to)
	}

	b.Do(func() error { return errProbe })
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probe fails: reopen.
	if err := b.Do(func() error { return errProbe }); !errors.Is(err, errProbe) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state after failed probe = %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probe succeeds: close.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state after good probe = %v", b.State())
	}

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(shifts) != len(want) {
		t.Fatalf("shifts = %v, want %v", shifts, want)
	}
	for i := range want {
		if shifts[i] != want[i] {
			t.Errorf("shift %d = %v, want %v", i, shifts[i], want[i])
		}
	}
}

func TestBreakerStateString(t *testing.T) {
	if BreakerClosed.String() != "closed" || BreakerOpen.String() != "open" || BreakerHalfOpen.String() != "half-open" {
		t.Error("state strings wrong")
	}
}
