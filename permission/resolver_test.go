package permission

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshop-dev/authcore/kv"
)

// fakeDirectory counts lookups so tests can tell cache hits from
// recomputes.
type fakeDirectory struct {
	perms map[string][]string
	calls int
}

func (f *fakeDirectory) PermissionsByRoles(_ context.Context, roles []string) ([]string, error) {
	f.calls++
	var out []string
	for _, role := range roles {
		out = append(out, f.perms[role]...)
	}
	return out, nil
}

func newResolverTest(t *testing.T) (*Resolver, *fakeDirectory, kv.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := &fakeDirectory{perms: map[string][]string{
		"editor": {"post:write", "post:read"},
		"viewer": {"post:read"},
	}}
	store := kv.NewRedis(rdb, "mshop")
	return NewResolver(store, dir, "admin", nil, nil), dir, store
}

func TestEffectiveComputesUnion(t *testing.T) {
	r, _, _ := newResolverTest(t)

	perms, err := r.Effective(context.Background(), "u-1", []string{"editor", "viewer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"post:read", "post:write"}, perms)
}

func TestEffectiveIsCacheFirst(t *testing.T) {
	r, dir, _ := newResolverTest(t)
	ctx := context.Background()

	_, err := r.Effective(ctx, "u-1", []string{"editor"})
	require.NoError(t, err)
	_, err = r.Effective(ctx, "u-1", []string{"editor"})
	require.NoError(t, err)

	assert.Equal(t, 1, dir.calls, "second read must come from cache")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	r, dir, _ := newResolverTest(t)
	ctx := context.Background()

	_, err := r.Effective(ctx, "u-1", []string{"editor"})
	require.NoError(t, err)

	// Role change on the collaborator side, then the contractual call.
	dir.perms["editor"] = []string{"post:read"}
	require.NoError(t, r.Invalidate(ctx, "u-1"))

	perms, err := r.Effective(ctx, "u-1", []string{"editor"})
	require.NoError(t, err)
	assert.Equal(t, []string{"post:read"}, perms, "must recompute, not serve the pre-invalidation value")
	assert.Equal(t, 2, dir.calls)
}

func TestInvalidateAbsentEntryIsNoOp(t *testing.T) {
	r, _, _ := newResolverTest(t)
	require.NoError(t, r.Invalidate(context.Background(), "nobody"))
}

func TestCachePersistsWithoutTTL(t *testing.T) {
	r, _, store := newResolverTest(t)
	ctx := context.Background()

	_, err := r.Effective(ctx, "u-1", []string{"viewer"})
	require.NoError(t, err)

	_, hasTTL, err := store.TTL(ctx, kv.PermissionsKey("u-1"))
	require.NoError(t, err)
	assert.False(t, hasTTL, "permission cache entries are invalidated explicitly, never time-expired")
}

func TestCorruptCacheEntryRepaired(t *testing.T) {
	r, _, store := newResolverTest(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, kv.PermissionsKey("u-1"), "{broken", 0))

	perms, err := r.Effective(ctx, "u-1", []string{"viewer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"post:read"}, perms)

	cached, ok, err := store.Get(ctx, kv.PermissionsKey("u-1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["post:read"]`, cached)
}

func TestIsRoot(t *testing.T) {
	r, _, _ := newResolverTest(t)

	assert.True(t, r.IsRoot([]string{"admin", "editor"}))
	assert.False(t, r.IsRoot([]string{"editor"}))
	assert.False(t, r.IsRoot(nil))
}
