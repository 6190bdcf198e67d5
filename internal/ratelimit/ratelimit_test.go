package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(rate float64, burst int) (*Limiter, *time.Time) {
	clock := time.Now()
	l := NewLimiter(rate, burst)
	l.now = func() time.Time { return clock }
	l.lastUpdate = clock
	return l, &clock
}

func TestLimiterBurst(t *testing.T) {
	l, _ := newTestLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("Expected request %d to be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("Expected request beyond burst to be rejected")
	}
}

func TestLimiterRefill(t *testing.T) {
	l, clock := newTestLimiter(10, 1)

	if !l.Allow() {
		t.Fatal("Expected first request to be allowed")
	}
	if l.Allow() {
		t.Fatal("Expected bucket to be empty")
	}

	*clock = clock.Add(150 * time.Millisecond)
	if !l.Allow() {
		t.Error("Expected a token after refill")
	}
}

func TestLimiterAllowNClampsToBurst(t *testing.T) {
	l, clock := newTestLimiter(1, 4)

	if !l.AllowN(100) {
		t.Fatal("Cost above burst should be clamped and allowed on a full bucket")
	}
	if l.AllowN(1) {
		t.Error("Expected bucket to be drained")
	}

	*clock = clock.Add(2 * time.Second)
	if !l.AllowN(2) {
		t.Error("Expected 2 tokens after 2 seconds")
	}
}

func TestClientLimiters(t *testing.T) {
	cl := NewClientLimiters(1, 1)
	defer cl.Stop()

	a := cl.Get("a")
	if cl.Get("a") != a {
		t.Error("Expected same limiter for the same client")
	}
	if cl.Get("b") == a {
		t.Error("Expected distinct limiters per client")
	}
	if cl.Len() != 2 {
		t.Errorf("Expected 2 limiters, got %d", cl.Len())
	}

	cl.Remove("b")
	if cl.Len() != 1 {
		t.Errorf("Expected 1 limiter after remove, got %d", cl.Len())
	}

	if n := cl.prune(time.Now().Add(time.Hour)); n != 1 {
		t.Errorf("Expected 1 pruned limiter, got %d", n)
	}

	cl.Stop()
}
