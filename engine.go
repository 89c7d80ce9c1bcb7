package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mshop-dev/authcore/bus"
	"github.com/mshop-dev/authcore/gate"
	"github.com/mshop-dev/authcore/internal"
	"github.com/mshop-dev/authcore/kv"
	"github.com/mshop-dev/authcore/leader"
	"github.com/mshop-dev/authcore/permission"
	"github.com/mshop-dev/authcore/realtime"
	"github.com/mshop-dev/authcore/token"
)

// Engine ties the session, permission and realtime components together
// behind the login/logout surface. Construct it through [Builder].
type Engine struct {
	cfg       Config
	store     kv.Store
	events    *bus.Bus
	authority *token.Authority
	resolver  *permission.Resolver
	gate      *gate.Gate
	elector   *leader.Elector
	users     UserDirectory
	log       *slog.Logger
}

// Login checks credentials against the user directory, issues an access
// token and warms the permission cache. Unknown user and wrong password
// are indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, username, password string) (*token.AccessToken, error) {
	user, err := e.users.FindByCredential(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if user == nil || !internal.VerifyLegacy(password, user.Salt, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	issued, err := e.authority.Issue(ctx, user.ID, user.Roles)
	if err != nil {
		return nil, err
	}

	if _, err := e.resolver.Refresh(ctx, user.ID, user.Roles); err != nil {
		// The cache warm is an optimization; the first gated request
		// recomputes on miss.
		e.log.Warn("permission cache warm failed", "uid", user.ID, "error", err)
	}

	e.log.Info("login", "uid", user.ID, "username", user.Username)
	return issued, nil
}

// Logout revokes the presented token: blacklists it for its remaining
// lifetime and announces the revocation to every process.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	return e.authority.Revoke(ctx, raw)
}

// Validate delegates to the token authority. Exposed for transports
// that handle tokens directly.
func (e *Engine) Validate(ctx context.Context, raw string) (*token.Claims, error) {
	return e.authority.Validate(ctx, raw)
}

// ChangePassword verifies the current credential, persists the new one
// through the directory, bumps the password version (invalidating every
// outstanding token for the user) and revokes the calling token.
func (e *Engine) ChangePassword(ctx context.Context, raw, oldPassword, newPassword string) error {
	claims, err := e.authority.Validate(ctx, raw)
	if err != nil {
		return err
	}

	updater, ok := e.users.(PasswordUpdater)
	if !ok {
		return ErrPasswordUpdateUnsupported
	}

	user, err := e.users.FindByID(ctx, claims.UID)
	if err != nil {
		return fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !internal.VerifyLegacy(oldPassword, user.Salt, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	salt, err := internal.NewSalt()
	if err != nil {
		return err
	}
	if err := updater.UpdatePassword(ctx, user.ID, internal.LegacyHash(newPassword, salt), salt); err != nil {
		return fmt.Errorf("persist password: %w", err)
	}

	if err := e.authority.BumpPasswordVersion(ctx, user.ID); err != nil {
		return err
	}
	return e.authority.Revoke(ctx, raw)
}

// EffectivePermissions resolves the caller's permission codes,
// cache-first.
func (e *Engine) EffectivePermissions(ctx context.Context, id *gate.Identity) ([]string, error) {
	return e.resolver.Effective(ctx, id.UserID, id.Roles)
}

// InvalidatePermissions is the hook for the role/menu management
// collaborator: it must be called for every user affected by a role or
// menu mutation.
func (e *Engine) InvalidatePermissions(ctx context.Context, userID string) error {
	return e.resolver.Invalidate(ctx, userID)
}

// BumpPasswordVersion invalidates all outstanding tokens for a user
// without enumerating them. For administrative force-logout flows.
func (e *Engine) BumpPasswordVersion(ctx context.Context, userID string) error {
	return e.authority.BumpPasswordVersion(ctx, userID)
}

// Guard builds the HTTP middleware for one route descriptor.
func (e *Engine) Guard(route gate.Route) func(http.Handler) http.Handler {
	return gate.Middleware(e.authority, e.gate, route)
}

// NewGateway opens a realtime gateway for the namespace, wired to this
// engine's token authority and bus.
func (e *Engine) NewGateway(namespace string) *realtime.Gateway {
	return realtime.NewGateway(namespace, e.authority, e.events, e.cfg.Heartbeat, e.log)
}

// RunMaintenance blocks, sweeping expired token entries on the given
// cadence whenever this process holds the leader claim.
func (e *Engine) RunMaintenance(ctx context.Context, every time.Duration) {
	sweeper := leader.NewSweeper(e.store, e.authority, e.log)
	e.elector.RunEvery(ctx, every, sweeper.Task())
}

// Authority exposes the token lifecycle manager.
func (e *Engine) Authority() *token.Authority { return e.authority }

// Resolver exposes the permission resolver.
func (e *Engine) Resolver() *permission.Resolver { return e.resolver }

// Gate exposes the authorization gate.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Bus exposes the event bus.
func (e *Engine) Bus() *bus.Bus { return e.events }
