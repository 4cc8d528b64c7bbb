package server

import (
	"testing"
	"time"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Enabled() {
		t.Fatal("expected disabled limiter")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestRateLimiter_PerKey(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(60, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other keys have their own bucket")
	}

	// One token refills per second at 60 rpm.
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("expected refill after one second")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("new")
	rl.cleanup(time.Minute)

	if _, ok := rl.limiters.Load("old"); ok {
		t.Error("stale entry should be removed")
	}
	if _, ok := rl.limiters.Load("new"); !ok {
		t.Error("fresh entry should be kept")
	}
}
