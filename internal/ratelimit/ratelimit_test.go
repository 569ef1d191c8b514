package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(3, time.Second)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksBeyondCapacity(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(1, 50*time.Millisecond)
	ctx := context.Background()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("second Wait returned immediately; expected it to block for a refill")
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	b := NewTokenBucket(1, time.Hour)
	_ = b.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
