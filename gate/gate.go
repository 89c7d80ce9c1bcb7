// Package gate makes the per-request authorization decision. Routes
// carry explicit descriptors attached at registration time; there is no
// reflection-based metadata lookup.
package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Stable machine-readable rejection codes, surfaced to clients so they
// can tell "log in again" from "you lack access".
const (
	CodeNotAuthenticated = 1101
	CodeNoPermission     = 1103
)

var (
	// ErrNotAuthenticated rejects requests with no valid identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoPermission rejects authenticated callers missing a required
	// permission. The session stays intact; only explicit revocation or
	// a password-version bump ends it.
	ErrNoPermission = errors.New("no permission")
)

// Route is the inspectable descriptor consulted for every request.
type Route struct {
	// Public routes skip authentication entirely.
	Public bool
	// AllowAnon routes accept unauthenticated callers but still attach
	// the identity when a valid token is supplied.
	AllowAnon bool
	// Permissions lists required permission codes. All listed codes
	// must be held (conjunctive), not any one of them.
	Permissions []string
}

// Identity is the caller's resolved identity. Absent (nil) when no
// token was supplied.
type Identity struct {
	UserID string
	Roles  []string
	// Token is the raw credential that authenticated this request,
	// kept for logout/revocation.
	Token string
}

// PermissionSource resolves effective permissions and recognizes the
// root role.
type PermissionSource interface {
	IsRoot(roles []string) bool
	Effective(ctx context.Context, userID string, roles []string) ([]string, error)
}

// Gate approves or denies a request given its route descriptor and the
// caller's identity.
type Gate struct {
	perms PermissionSource
}

func New(perms PermissionSource) *Gate {
	return &Gate{perms: perms}
}

// Authorize runs the decision ladder:
//
//  1. public route → allow
//  2. no identity → not authenticated
//  3. anonymous allowed → allow
//  4. no required permission → allow (authentication suffices)
//  5. root role → allow
//  6. all listed permissions held → allow, else deny
//
// The all-of semantics on Permissions is deliberate and matches the
// system this replaces; it is not the usual any-of convention.
func (g *Gate) Authorize(ctx context.Context, route Route, id *Identity) error {
	if route.Public {
		return nil
	}
	if id == nil {
		return ErrNotAuthenticated
	}
	if route.AllowAnon {
		return nil
	}
	if len(route.Permissions) == 0 {
		return nil
	}
	if g.perms.IsRoot(id.Roles) {
		return nil
	}

	held, err := g.perms.Effective(ctx, id.UserID, id.Roles)
	if err != nil {
		return fmt.Errorf("resolve permissions: %w", err)
	}
	for _, required := range route.Permissions {
		if !slices.Contains(held, required) {
			return ErrNoPermission
		}
	}
	return nil
}
