package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduplicator(t *testing.T, ttl time.Duration) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return NewDeduplicator(rdb, ttl), s
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	d, _ := newTestDeduplicator(t, time.Minute)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "user:1", "create-abc")
	if err != nil {
		t.Fatalf("first dedup: %v", err)
	}
	if dup {
		t.Fatalf("expected first to be non-duplicate")
	}

	dup, err = d.IsDuplicate(ctx, "user:1", "create-abc")
	if err != nil {
		t.Fatalf("second dedup: %v", err)
	}
	if !dup {
		t.Fatalf("expected second to be duplicate")
	}

	dup, _ = d.IsDuplicate(ctx, "user:2", "create-abc")
	if dup {
		t.Fatalf("expected key to be scoped per user")
	}
}

func TestDeduplicator_ExpiresAndDelete(t *testing.T) {
	d, s := newTestDeduplicator(t, time.Minute)
	ctx := context.Background()

	_, _ = d.IsDuplicate(ctx, "user:1", "k")
	s.FastForward(2 * time.Minute)
	if dup, _ := d.IsDuplicate(ctx, "user:1", "k"); dup {
		t.Fatalf("expected key to expire after window")
	}

	if err := d.Delete(ctx, "user:1", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if dup, _ := d.IsDuplicate(ctx, "user:1", "k"); dup {
		t.Fatalf("expected key released after delete")
	}
}

func TestDeduplicator_EmptyKey(t *testing.T) {
	d, _ := newTestDeduplicator(t, time.Minute)
	for i := 0; i < 2; i++ {
		if dup, err := d.IsDuplicate(context.Background(), "user:1", ""); dup || err != nil {
			t.Fatalf("expected empty key to never dedup")
		}
	}
}
