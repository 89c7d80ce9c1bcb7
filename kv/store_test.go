package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStoreTest(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb, "mshop"), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, TokenKey("u-1"), "tok-abc", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(ctx, TokenKey("u-1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || val != "tok-abc" {
		t.Fatalf("expected (tok-abc, true), got (%q, %v)", val, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, _ := newStoreTest(t)

	_, ok, err := store.Get(context.Background(), TokenKey("nobody"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestKeysArePrefixNamespaced(t *testing.T) {
	store, mr := newStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, PermissionsKey("u-1"), "[]", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("mshop:auth:permissions:u-1") {
		t.Fatal("expected instance-prefixed key in redis")
	}
}

func TestExpiryHonored(t *testing.T) {
	store, mr := newStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, BlacklistKey("tok"), "1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	ok, err := store.Exists(ctx, BlacklistKey("tok"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("expected key to expire")
	}
}

func TestDelIdempotent(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, TokenKey("u-1"), "tok", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Del(ctx, TokenKey("u-1")); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Del(ctx, TokenKey("u-1")); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestIncrMonotonic(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Incr(ctx, PasswordVersionKey("u-1"))
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != want {
			t.Fatalf("expected version %d, got %d", want, got)
		}
	}
}

func TestKeysStripsInstancePrefix(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, TokenKey("u-1"), "tok", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, DeviceTokenKey("u-2", "jti-1"), "tok2", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	keys, err := store.Keys(ctx, TokenKeyPattern())
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 token keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != TokenKey("u-1") && k != DeviceTokenKey("u-2", "jti-1") {
			t.Fatalf("unexpected key %q", k)
		}
	}
}

func TestUnavailableStoreSurfacesError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedis(rdb, "mshop")
	mr.Close()

	_, _, err = store.Get(context.Background(), TokenKey("u-1"))
	if err == nil {
		t.Fatal("expected error from closed store")
	}
}
