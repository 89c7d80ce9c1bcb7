package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshop-dev/authcore/gate"
	"github.com/mshop-dev/authcore/internal"
)

// memoryDirectory is an in-memory UserDirectory + RoleDirectory for
// tests.
type memoryDirectory struct {
	users map[string]*UserRecord // keyed by username
	perms map[string][]string    // role → permission codes
}

func (d *memoryDirectory) FindByCredential(_ context.Context, credential string) (*UserRecord, error) {
	if u, ok := d.users[credential]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (d *memoryDirectory) FindByID(_ context.Context, id string) (*UserRecord, error) {
	for _, u := range d.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (d *memoryDirectory) UpdatePassword(_ context.Context, userID, passwordHash, salt string) error {
	for _, u := range d.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			u.Salt = salt
			return nil
		}
	}
	return ErrUserNotFound
}

func (d *memoryDirectory) PermissionsByRoles(_ context.Context, roles []string) ([]string, error) {
	var out []string
	for _, role := range roles {
		out = append(out, d.perms[role]...)
	}
	return out, nil
}

func newEngineTest(t *testing.T) (*Engine, *memoryDirectory) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := &memoryDirectory{
		users: map[string]*UserRecord{
			"alice": {
				ID:           "u-alice",
				Username:     "alice",
				PasswordHash: internal.LegacyHash("s3cret", "salted"),
				Salt:         "salted",
				Roles:        []string{"editor"},
			},
		},
		perms: map[string][]string{
			"editor": {"post:write", "post:read"},
		},
	}

	cfg := DefaultConfig()
	cfg.Secret = "test-secret-0123456789"
	cfg.TokenTTL = time.Hour

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(dir).
		WithRoleDirectory(dir).
		Build()
	require.NoError(t, err)
	return engine, dir
}

func TestLoginIssuesValidToken(t *testing.T) {
	engine, _ := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-alice", issued.UserID)

	claims, err := engine.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", claims.UID)
	assert.Equal(t, []string{"editor"}, claims.Roles)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	engine, _ := newEngineTest(t)

	_, err := engine.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	engine, _ := newEngineTest(t)

	_, err := engine.Login(context.Background(), "mallory", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWarmsPermissionCache(t *testing.T) {
	engine, dir := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	// Mutating the directory without invalidation must not be visible:
	// the warmed cache serves the snapshot from login time.
	dir.perms["editor"] = []string{"post:read"}

	claims, err := engine.Validate(ctx, issued.Token)
	require.NoError(t, err)
	id := &gate.Identity{UserID: claims.UID, Roles: claims.Roles, Token: issued.Token}
	perms, err := engine.EffectivePermissions(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"post:write", "post:read"}, perms)
}

func TestInvalidatePermissionsRecomputes(t *testing.T) {
	engine, dir := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	dir.perms["editor"] = []string{"post:read"}
	require.NoError(t, engine.InvalidatePermissions(ctx, "u-alice"))

	claims, err := engine.Validate(ctx, issued.Token)
	require.NoError(t, err)
	id := &gate.Identity{UserID: claims.UID, Roles: claims.Roles, Token: issued.Token}
	perms, err := engine.EffectivePermissions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"post:read"}, perms)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	engine, _ := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	require.NoError(t, engine.Logout(ctx, issued.Token))

	_, err = engine.Validate(ctx, issued.Token)
	assert.Error(t, err)
}

func TestChangePasswordEndsSession(t *testing.T) {
	engine, _ := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	require.NoError(t, engine.ChangePassword(ctx, issued.Token, "s3cret", "n3w-s3cret"))

	// The old token is dead on both paths: blacklist and version bump.
	_, err = engine.Validate(ctx, issued.Token)
	assert.Error(t, err)

	// Old credential no longer works, the new one does.
	_, err = engine.Login(ctx, "alice", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	fresh, err := engine.Login(ctx, "alice", "n3w-s3cret")
	require.NoError(t, err)
	_, err = engine.Validate(ctx, fresh.Token)
	assert.NoError(t, err)
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	engine, _ := newEngineTest(t)
	ctx := context.Background()

	issued, err := engine.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	err = engine.ChangePassword(ctx, issued.Token, "wrong", "n3w-s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// The session survives a failed attempt.
	_, err = engine.Validate(ctx, issued.Token)
	assert.NoError(t, err)
}

func TestBuildRejectsMissingSecret(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := &memoryDirectory{}
	cfg := DefaultConfig() // no Secret

	_, err = New().WithConfig(cfg).WithRedis(rdb).WithUserDirectory(dir).WithRoleDirectory(dir).Build()
	assert.Error(t, err)
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dir := &memoryDirectory{}
	cfg := DefaultConfig()
	cfg.Secret = "test-secret"
	cfg.DevicePolicy = "triple"

	_, err = New().WithConfig(cfg).WithRedis(rdb).WithUserDirectory(dir).WithRoleDirectory(dir).Build()
	assert.Error(t, err)
}
