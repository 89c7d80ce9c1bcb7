// Package kv abstracts the shared key/value store used for tokens,
// permission caches, password versions and blacklists. All cross-process
// state lives here; processes never share memory.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers on the validation path must treat it as a failed check, never
// as a pass.
var ErrUnavailable = errors.New("kv store unavailable")

// Store is the minimal surface the auth core needs from a shared,
// network-accessible key/value store with expiring keys.
type Store interface {
	// Get returns the value for key, or ("", false, nil) when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes key only if it does not exist. Reports whether the
	// write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys. Removing an absent key is a no-op.
	Del(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer at key and returns the
	// new value. A missing key counts as 0.
	Incr(ctx context.Context, key string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Keys returns all keys matching the glob pattern. Intended for
	// maintenance sweeps, not request paths.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining lifetime of key. Returns ok=false for
	// absent keys or keys without expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
}

// Redis implements Store on top of a go-redis client. Every key is
// namespaced with the instance prefix so co-tenants can share one
// deployment.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. prefix distinguishes this deployment from
// co-tenants on the same store; it is prepended to every key.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, r.key(pattern)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	// Strip the instance prefix so callers see the same names they wrote.
	if r.prefix != "" {
		cut := len(r.prefix) + 1
		for i, k := range keys {
			if len(k) >= cut {
				keys[i] = k[cut:]
			}
		}
	}
	return keys, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.client.TTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, false, wrap(err)
	}
	// go-redis reports -2 for missing keys and -1 for keys without expiry.
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

func wrap(err error) error {
	return errors.Join(ErrUnavailable, err)
}
