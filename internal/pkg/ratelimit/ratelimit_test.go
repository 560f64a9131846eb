package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_AllowUntilBurst(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, nil, 1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "user:1")
		if err != nil || !ok {
			t.Fatalf("expected request %d allowed, got %v err=%v", i, ok, err)
		}
	}
	ok, retry, err := limiter.Allow(ctx, "user:1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("expected third request rejected")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry hint, got %v", retry)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, nil, 1, 1)
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "user:1"); !ok {
		t.Fatalf("expected user:1 allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "user:2"); !ok {
		t.Fatalf("expected user:2 unaffected by user:1")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(nil, nil, 0, 0)
	for i := 0; i < 100; i++ {
		if ok, _, err := limiter.Allow(context.Background(), "k"); !ok || err != nil {
			t.Fatalf("expected disabled limiter to allow everything")
		}
	}
}

func TestLimiter_WaitBlocksUntilToken(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, nil, 10, 1)

	if err := limiter.Wait(context.Background(), "smtp"); err != nil {
		t.Fatalf("warm wait: %v", err)
	}
	start := time.Now()
	if err := limiter.Wait(context.Background(), "smtp"); err != nil {
		t.Fatalf("blocked wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected blocking, elapsed=%v", elapsed)
	}
}

func TestLimiter_WaitContextTimeout(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, nil, 1, 1)
	if err := limiter.Wait(context.Background(), "smtp"); err != nil {
		t.Fatalf("warm wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "smtp"); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
