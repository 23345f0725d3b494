package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rudolphlogin/feedload/internal/testutil"
)

const host = "sftp.partner.example"

func newBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(host)
	}
}

func TestAllow_UnknownHost_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 2)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 3)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(10 * time.Second)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil (trial request allowed), got %v", err)
	}
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected ErrCircuitOpen while half-open trial request in flight")
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newBreaker(3, time.Second)
	trip(cb, 3)
	clock.Advance(2 * time.Second)
	_ = cb.Allow(host)
	cb.RecordSuccess(host)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb, clock := newBreaker(3, time.Second)
	trip(cb, 3)
	clock.Advance(2 * time.Second)
	_ = cb.Allow(host)
	cb.RecordFailure(host)
	if err := cb.Allow(host); err == nil {
		t.Fatal("expected ErrCircuitOpen after failed trial request re-open")
	}
}

func TestIndependentHosts(t *testing.T) {
	cb, _ := newBreaker(2, 5*time.Second)
	cb.RecordFailure("a.example")
	cb.RecordFailure("a.example")
	if err := cb.Allow("a.example"); err == nil {
		t.Fatal("expected a.example open")
	}
	if err := cb.Allow("b.example"); err != nil {
		t.Fatalf("expected b.example allowed, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	cb, _ := newBreaker(0, time.Second)
	trip(cb, 10)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("disabled breaker must allow, got %v", err)
	}
	var nilBreaker *CircuitBreaker
	if err := nilBreaker.Do(host, func() error { return nil }); err != nil {
		t.Fatalf("nil breaker Do: %v", err)
	}
}

func TestDo(t *testing.T) {
	cb, _ := newBreaker(2, time.Minute)
	boom := errors.New("refused")
	calls := 0
	fail := func() error { calls++; return boom }

	for i := 0; i < 2; i++ {
		if err := cb.Do(host, fail); !errors.Is(err, boom) {
			t.Fatalf("Do #%d = %v, want boom", i, err)
		}
	}
	if err := cb.Do(host, fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do after threshold = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}
