package gateway

import (
	"testing"
	"time"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	if ok, remaining, _ := limiter.Allow("a"); !ok || remaining != 1 {
		t.Fatalf("Expected first request allowed with 1 remaining, got %v %d", ok, remaining)
	}
	if ok, _, _ := limiter.Allow("a"); !ok {
		t.Fatal("Expected second request allowed")
	}
	if ok, _, _ := limiter.Allow("a"); ok {
		t.Fatal("Expected third request rejected")
	}
	if ok, _, _ := limiter.Allow("b"); !ok {
		t.Error("Expected other callers to have their own bucket")
	}

	now = now.Add(30 * time.Second)
	if ok, remaining, _ := limiter.Allow("a"); !ok || remaining != 0 {
		t.Errorf("Expected one token refilled after half a window, got %v %d", ok, remaining)
	}

	now = now.Add(5 * time.Minute)
	limiter.Sweep()
	if len(limiter.buckets) != 0 {
		t.Errorf("Expected idle buckets to be swept, %d left", len(limiter.buckets))
	}
}

func TestRateLimiterKeepsPartialRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(3, 3*time.Second)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _, _ := limiter.Allow("a"); !ok {
			t.Fatalf("Expected request %d allowed", i)
		}
	}

	now = now.Add(1500 * time.Millisecond)
	if ok, _, _ := limiter.Allow("a"); !ok {
		t.Fatal("Expected one token after 1.5 intervals")
	}
	if ok, _, _ := limiter.Allow("a"); ok {
		t.Fatal("Expected bucket to be empty again")
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _, _ := limiter.Allow("a"); !ok {
		t.Error("Expected the leftover half interval to count toward the next token")
	}

	// steady traffic at the refill rate is never rejected
	for i := 0; i < 30; i++ {
		now = now.Add(time.Second)
		if ok, _, _ := limiter.Allow("a"); !ok {
			t.Fatalf("Expected request at steady rate %d allowed", i)
		}
	}
}
