package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"taskpulse/pkg/clock"
)

var (
	errBoom     = errors.New("boom")
	errRejected = errors.New("rejected by peer")
)

func newTestBreaker(cfg Config) (*CircuitBreaker, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1000, 0))
	cfg.Name = "test"
	return NewCircuitBreakerWithClock(cfg, clk), clk
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenFor: 10 * time.Second, HalfOpenProbes: 1})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected errBoom, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) || called {
		t.Fatalf("expected rejection while open, err=%v called=%v", err, called)
	}
}

func TestUncountedErrorsPassThrough(t *testing.T) {
	cb, _ := newTestBreaker(Config{
		FailureThreshold: 2,
		Counts:           func(err error) bool { return err != nil && !errors.Is(err, errRejected) },
	})

	for i := 0; i < 10; i++ {
		if err := cb.Execute(func() error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("call %d: expected caller to see errRejected, got %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("uncounted errors opened the breaker: %s", cb.GetState())
	}

	// 未计入的错误也打断连续失败
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errRejected })
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed, failures were not consecutive")
	}
}

func TestHalfOpenRecovers(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenFor: 10 * time.Second, HalfOpenProbes: 1})

	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open")
	}

	clk.Advance(11 * time.Second)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half open after cooldown, got %s", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected success in half open, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after success, got %s", cb.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenFor: time.Second, HalfOpenProbes: 2})

	_ = cb.Execute(func() error { return errBoom })
	clk.Advance(2 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Errorf("expected open after half-open failure, got %s", cb.GetState())
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	cb, _ := newTestBreaker(Config{})
	for i := 0; i < DefaultConfig().FailureThreshold-1; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.GetState() != StateClosed {
		t.Fatal("opened before the default threshold")
	}
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Error("expected open at the default threshold")
	}
}
