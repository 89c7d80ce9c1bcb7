// Package permission computes a user's effective permission set from
// role assignments and maintains a shared cache of it. The cache has no
// TTL: it is explicitly invalidated on role or menu mutation, never
// time-expired.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mshop-dev/authcore/bus"
	"github.com/mshop-dev/authcore/kv"
)

// RoleDirectory is the external role/menu management collaborator. It
// resolves role values to the union of permission codes attached to the
// menus those roles can reach. Errors propagate to the caller with no
// internal retry.
type RoleDirectory interface {
	PermissionsByRoles(ctx context.Context, roles []string) ([]string, error)
}

type publisher interface {
	Publish(ctx context.Context, topic string, ev bus.Event) error
}

// Resolver owns the PermissionsKey cache entries in the shared store.
//
// The invalidation contract: whoever mutates role-menu or user-role
// assignments must call Invalidate for every affected user. The
// resolver cannot detect a missed call; it is an explicit contract with
// the collaborator.
type Resolver struct {
	store    kv.Store
	roles    RoleDirectory
	rootRole string
	events   publisher
	log      *slog.Logger
}

// NewResolver builds a Resolver. rootRole holds the distinguished
// super-admin role value; events may be nil.
func NewResolver(store kv.Store, roles RoleDirectory, rootRole string, events publisher, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, roles: roles, rootRole: rootRole, events: events, log: log}
}

// IsRoot reports whether the role snapshot carries the distinguished
// root role. Root holders pass every permission check without touching
// the cache.
func (r *Resolver) IsRoot(roles []string) bool {
	return r.rootRole != "" && slices.Contains(roles, r.rootRole)
}

// Effective returns the user's permission codes, cache-first. On a miss
// it recomputes from the role directory using the caller's roles
// snapshot and repopulates the cache.
func (r *Resolver) Effective(ctx context.Context, userID string, roles []string) ([]string, error) {
	cached, ok, err := r.store.Get(ctx, kv.PermissionsKey(userID))
	if err != nil {
		return nil, fmt.Errorf("permission cache read: %w", err)
	}
	if ok {
		var perms []string
		if err := json.Unmarshal([]byte(cached), &perms); err == nil {
			return perms, nil
		}
		// A corrupt entry falls through to recompute; the rewrite
		// below repairs it.
		r.log.Warn("corrupt permission cache entry", "uid", userID)
	}
	return r.Refresh(ctx, userID, roles)
}

// Refresh recomputes the effective set and writes it to the cache with
// no TTL. Returns the de-duplicated, sorted permission codes.
func (r *Resolver) Refresh(ctx context.Context, userID string, roles []string) ([]string, error) {
	perms, err := r.roles.PermissionsByRoles(ctx, roles)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}

	slices.Sort(perms)
	perms = slices.Compact(perms)

	data, err := json.Marshal(perms)
	if err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, kv.PermissionsKey(userID), string(data), 0); err != nil {
		return nil, fmt.Errorf("permission cache write: %w", err)
	}
	return perms, nil
}

// Invalidate deletes the cached set so the next Effective call
// recomputes. Deleting an absent entry is a no-op, so duplicate
// invalidations are harmless.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	if err := r.store.Del(ctx, kv.PermissionsKey(userID)); err != nil {
		return fmt.Errorf("permission cache delete: %w", err)
	}
	if r.events != nil {
		if err := r.events.Publish(ctx, bus.TopicPermissionsInvalidated, bus.PermissionsInvalidated{UserID: userID}); err != nil {
			r.log.Warn("invalidation publish failed", "uid", userID, "error", err)
		}
	}
	return nil
}
