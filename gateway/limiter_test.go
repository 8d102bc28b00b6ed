package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	l := NewTokenBucketLimiter(1, 3)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("wait err: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("burst tokens should not block")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	l := NewTokenBucketLimiter(50, 1)
	_ = l.Wait(context.Background())
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait err: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("second token should wait for refill")
	}
}

func TestTokenBucketContextCancel(t *testing.T) {
	l := NewTokenBucketLimiter(0.1, 1)
	_ = l.Wait(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
