package channels

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterStartsFull(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("token %d should be available", i)
		}
	}
	if rl.Allow() {
		t.Fatal("bucket should be empty after capacity draws")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	if !rl.Allow() {
		t.Fatal("initial token missing")
	}
	if rl.Allow() {
		t.Fatal("second immediate draw should fail")
	}
	time.Sleep(25 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("token should have refilled")
	}
}

func TestRateLimiterWaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	rl.Allow()
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("Wait returned too early: %v", elapsed)
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}
