package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreLimit(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := store.TryAcquire(ctx, "profile-1", 3, time.Hour)
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("TryAcquire() denied send %d under the limit", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("Remaining = %d, want %d", res.Remaining, 3-(i+1))
		}
	}

	res, err := store.TryAcquire(ctx, "profile-1", 3, time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if res.Allowed {
		t.Error("TryAcquire() allowed send over the limit")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want within the hour window", res.RetryAfter)
	}
}

func TestMemoryStoreKeysIndependent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	res, _ := store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if !res.Allowed {
		t.Fatal("first send denied")
	}
	res, _ = store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if res.Allowed {
		t.Error("profile-1 over its quota but allowed")
	}

	// A different credential has its own window
	res, _ = store.TryAcquire(ctx, "profile-2", 1, time.Hour)
	if !res.Allowed {
		t.Error("profile-2 denied by profile-1's counter")
	}
}

func TestMemoryStoreWindowReset(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	current := time.Now()
	store.now = func() time.Time { return current }

	ctx := context.Background()

	res, _ := store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if !res.Allowed {
		t.Fatal("first send denied")
	}
	res, _ = store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if res.Allowed {
		t.Fatal("second send allowed inside the window")
	}

	// Advance past the window boundary; the counter resets fully
	current = current.Add(time.Hour + time.Second)
	res, _ = store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if !res.Allowed {
		t.Error("send denied after window reset")
	}
}

func TestMemoryStoreZeroLimit(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	// Zero means unlimited
	for i := 0; i < 10; i++ {
		res, err := store.TryAcquire(context.Background(), "profile-1", 0, time.Hour)
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !res.Allowed {
			t.Fatal("zero limit should not deny")
		}
	}
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		store.Close()
	})
	return store, mr
}

func TestRedisStoreLimit(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := store.TryAcquire(ctx, "profile-1", 2, time.Hour)
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("TryAcquire() denied send %d under the limit", i+1)
		}
	}

	res, err := store.TryAcquire(ctx, "profile-1", 2, time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if res.Allowed {
		t.Error("TryAcquire() allowed send over the limit")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}
}

func TestRedisStoreWindowReset(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	res, _ := store.TryAcquire(ctx, "profile-1", 1, time.Minute)
	if !res.Allowed {
		t.Fatal("first send denied")
	}
	res, _ = store.TryAcquire(ctx, "profile-1", 1, time.Minute)
	if res.Allowed {
		t.Fatal("second send allowed inside the window")
	}

	// Let the key TTL expire
	mr.FastForward(time.Minute + time.Second)

	res, err := store.TryAcquire(ctx, "profile-1", 1, time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !res.Allowed {
		t.Error("send denied after window expiry")
	}
}

func TestRedisStoreKeysIndependent(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	res, _ := store.TryAcquire(ctx, "profile-1", 1, time.Hour)
	if !res.Allowed {
		t.Fatal("first send denied")
	}
	res, _ = store.TryAcquire(ctx, "profile-2", 1, time.Hour)
	if !res.Allowed {
		t.Error("profile-2 denied by profile-1's counter")
	}
}
