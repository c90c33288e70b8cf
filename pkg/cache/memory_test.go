package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "p", payload{Name: "btc", Value: 1.5}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got payload
	if err := mc.Get(ctx, "p", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "btc" || got.Value != 1.5 {
		t.Fatalf("got %+v", got)
	}

	if err := mc.Set(ctx, "s", "plain", time.Minute); err != nil {
		t.Fatalf("Set string: %v", err)
	}
	var s string
	if err := mc.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("Get string = %q, %v", s, err)
	}

	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheIncrementBy(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	for _, n := range []int64{1, 2, 3} {
		if _, err := mc.IncrementBy(ctx, "quota", n); err != nil {
			t.Fatalf("IncrementBy: %v", err)
		}
	}
	var total int64
	if err := mc.Get(ctx, "quota", &total); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if total != 6 {
		t.Fatalf("total = %d, want 6", total)
	}

	_ = mc.Set(ctx, "text", "x", 0)
	if _, err := mc.IncrementBy(ctx, "text", 1); err == nil {
		t.Fatalf("expected error incrementing a non-counter")
	}
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	token, ok, err := mc.TryLock(ctx, "cycle", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("first TryLock = %q, %v, %v", token, ok, err)
	}
	if _, ok, _ := mc.TryLock(ctx, "cycle", time.Minute); ok {
		t.Fatalf("second TryLock should fail while held")
	}
	if err := mc.Unlock(ctx, "cycle", "someone-else"); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("Unlock with a foreign token = %v, want ErrLockNotHeld", err)
	}
	if err := mc.Unlock(ctx, "cycle", token); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, ok, _ := mc.TryLock(ctx, "cycle", time.Millisecond); !ok {
		t.Fatalf("TryLock after Unlock should succeed")
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := mc.TryLock(ctx, "cycle", time.Minute); !ok {
		t.Fatalf("expired lock should be reacquirable")
	}
}

func TestMemoryCacheStaleUnlockKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	old, _, _ := mc.TryLock(ctx, "cycle", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	current, ok, _ := mc.TryLock(ctx, "cycle", time.Minute)
	if !ok {
		t.Fatalf("expired lock should be reacquirable")
	}
	if err := mc.Unlock(ctx, "cycle", old); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("stale Unlock = %v, want ErrLockNotHeld", err)
	}
	if _, ok, _ := mc.TryLock(ctx, "cycle", time.Minute); ok {
		t.Fatalf("stale Unlock released the new holder's lock")
	}
	if err := mc.Unlock(ctx, "cycle", current); err != nil {
		t.Fatalf("Unlock by current holder: %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	_ = mc.Set(ctx, "k", "v", time.Minute)
	if ok, _ := mc.Expire(ctx, "k", time.Millisecond); !ok {
		t.Fatalf("Expire on existing key should report true")
	}
	time.Sleep(5 * time.Millisecond)
	var v string
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v (%q)", err, v)
	}
}
