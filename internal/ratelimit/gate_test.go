package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireDelaysSecondCaller(t *testing.T) {
	gate := NewGate(1, 100*time.Millisecond)
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	start := time.Now()
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("second acquire returned after %v, want >= refill interval", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	gate := NewGate(1, time.Hour)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("seed Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(ctx); err == nil {
		t.Fatalf("expected context error while bucket empty")
	}
}

func TestUngatedInstanceNeverBlocks(t *testing.T) {
	gate := NewGate(0, 0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := gate.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
}

func TestConcurrentAcquirersAllProceed(t *testing.T) {
	gate := NewGate(4, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- gate.Acquire(ctx)
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Acquire() error = %v", err)
		}
	}
}
