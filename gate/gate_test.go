package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshop-dev/authcore/kv"
	"github.com/mshop-dev/authcore/permission"
	"github.com/mshop-dev/authcore/token"
)

type staticDirectory map[string][]string

func (d staticDirectory) PermissionsByRoles(_ context.Context, roles []string) ([]string, error) {
	var out []string
	for _, role := range roles {
		out = append(out, d[role]...)
	}
	return out, nil
}

func newGateTest(t *testing.T) (*Gate, *token.Authority) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := kv.NewRedis(rdb, "mshop")

	dir := staticDirectory{
		"editor": {"post:write"},
		"viewer": {"post:read"},
		"both":   {"a", "b"},
		"only-a": {"a"},
	}
	resolver := permission.NewResolver(store, dir, "admin", nil, nil)

	auth, err := token.NewAuthority(token.Config{
		Secret: []byte("test-secret-0123456789"),
		TTL:    time.Hour,
		Issuer: "mshop",
		Policy: token.PolicySingle,
	}, store, nil, nil)
	require.NoError(t, err)

	return New(resolver), auth
}

func TestPublicRouteAllowsAnyone(t *testing.T) {
	g, _ := newGateTest(t)
	assert.NoError(t, g.Authorize(context.Background(), Route{Public: true}, nil))
}

func TestMissingIdentityDenied(t *testing.T) {
	g, _ := newGateTest(t)
	err := g.Authorize(context.Background(), Route{}, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAnonymousRouteAllowsAuthenticated(t *testing.T) {
	g, _ := newGateTest(t)
	id := &Identity{UserID: "u-1", Roles: []string{"viewer"}}
	assert.NoError(t, g.Authorize(context.Background(), Route{AllowAnon: true}, id))
}

func TestAuthenticationSufficesWithoutRequiredPermissions(t *testing.T) {
	g, _ := newGateTest(t)
	id := &Identity{UserID: "u-1", Roles: []string{"viewer"}}
	assert.NoError(t, g.Authorize(context.Background(), Route{}, id))
}

func TestRootRoleShortCircuits(t *testing.T) {
	g, _ := newGateTest(t)
	id := &Identity{UserID: "u-1", Roles: []string{"admin"}}
	route := Route{Permissions: []string{"anything:at:all"}}
	assert.NoError(t, g.Authorize(context.Background(), route, id))
}

func TestSinglePermissionMembership(t *testing.T) {
	g, _ := newGateTest(t)
	ctx := context.Background()
	route := Route{Permissions: []string{"post:write"}}

	editor := &Identity{UserID: "u-1", Roles: []string{"editor"}}
	assert.NoError(t, g.Authorize(ctx, route, editor))

	viewer := &Identity{UserID: "u-2", Roles: []string{"viewer"}}
	assert.ErrorIs(t, g.Authorize(ctx, route, viewer), ErrNoPermission)
}

func TestPermissionListIsConjunctive(t *testing.T) {
	g, _ := newGateTest(t)
	ctx := context.Background()
	route := Route{Permissions: []string{"a", "b"}}

	holdsBoth := &Identity{UserID: "u-1", Roles: []string{"both"}}
	assert.NoError(t, g.Authorize(ctx, route, holdsBoth))

	holdsOnlyA := &Identity{UserID: "u-2", Roles: []string{"only-a"}}
	assert.ErrorIs(t, g.Authorize(ctx, route, holdsOnlyA), ErrNoPermission,
		"all listed permissions are required, holding one is not enough")
}

func handlerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			w.Write([]byte("hello " + id.UserID))
			return
		}
		w.Write([]byte("hello stranger"))
	})
}

func TestMiddlewareRejectsWithStableCodes(t *testing.T) {
	g, auth := newGateTest(t)

	srv := Middleware(auth, g, Route{Permissions: []string{"post:write"}})(handlerEcho())

	// No token at all.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body rejection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotAuthenticated, body.Code)

	// Valid token, missing permission.
	issued, err := auth.Issue(context.Background(), "u-2", []string{"viewer"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNoPermission, body.Code)
}

func TestMiddlewarePassesIdentityThrough(t *testing.T) {
	g, auth := newGateTest(t)

	srv := Middleware(auth, g, Route{Permissions: []string{"post:write"}})(handlerEcho())

	issued, err := auth.Issue(context.Background(), "u-1", []string{"editor"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello u-1", rec.Body.String())
}

func TestMiddlewareAcceptsQueryParamToken(t *testing.T) {
	g, auth := newGateTest(t)

	srv := Middleware(auth, g, Route{})(handlerEcho())

	issued, err := auth.Issue(context.Background(), "u-1", []string{"viewer"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token="+issued.Token, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello u-1", rec.Body.String())
}

func TestMiddlewarePublicRouteIgnoresBadToken(t *testing.T) {
	g, auth := newGateTest(t)

	srv := Middleware(auth, g, Route{Public: true})(handlerEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello stranger", rec.Body.String())
}
