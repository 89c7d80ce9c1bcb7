// Package token issues, validates and revokes access tokens. The
// authority is the writer of record for token and password-version keys
// in the shared store; every process validates against the same state.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mshop-dev/authcore/bus"
	"github.com/mshop-dev/authcore/kv"
)

// DevicePolicy controls how many concurrent logins a user may hold.
type DevicePolicy int

const (
	// PolicySingle allows one live token per user. Issuing a new one
	// overwrites the per-user key, implicitly invalidating the old token.
	PolicySingle DevicePolicy = iota
	// PolicyMulti tracks each device's token independently; tokens must
	// be revoked one by one.
	PolicyMulti
)

var (
	// ErrInvalidToken covers bad signatures, malformed tokens and
	// natural expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for blacklisted tokens and tokens
	// whose owner key was removed.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenStale is returned when the password version embedded in
	// the token no longer matches the stored version.
	ErrTokenStale = errors.New("token stale after credential change")
	// ErrTokenSuperseded is returned under single-device policy when a
	// newer token was issued for the same user.
	ErrTokenSuperseded = errors.New("token superseded by newer login")
)

// Claims are the signed contents of an access token.
type Claims struct {
	UID             string   `json:"uid"`
	Roles           []string `json:"roles,omitempty"`
	PasswordVersion int64    `json:"pv"`
	jwt.RegisteredClaims
}

// AccessToken is an issued bearer credential. The raw value is mirrored
// in the store under a TTL-bound key.
type AccessToken struct {
	Token     string
	UserID    string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type publisher interface {
	Publish(ctx context.Context, topic string, ev bus.Event) error
}

// Config for an Authority. Secret and TTL are mandatory; a missing
// secret is a fatal configuration error, not a per-request one.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Policy DevicePolicy
}

// Authority is the token lifecycle manager.
type Authority struct {
	cfg    Config
	store  kv.Store
	events publisher
	log    *slog.Logger
}

// NewAuthority validates cfg and builds an Authority. events may be nil
// when no revocation fan-out is wanted (tests, one-process setups).
func NewAuthority(cfg Config, store kv.Store, events publisher, log *slog.Logger) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	if cfg.Policy != PolicySingle && cfg.Policy != PolicyMulti {
		return nil, errors.New("token: unknown device policy")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Authority{cfg: cfg, store: store, events: events, log: log}, nil
}

// Issue signs a token for uid with a roles snapshot and mirrors the raw
// value in the store with TTL equal to the token lifetime. Under single
// device policy this overwrites any prior token for the user.
func (a *Authority) Issue(ctx context.Context, uid string, roles []string) (*AccessToken, error) {
	pv, err := a.currentPasswordVersion(ctx, uid)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exp := now.Add(a.cfg.TTL)
	jti := uuid.NewString()

	claims := Claims{
		UID:             uid,
		Roles:           roles,
		PasswordVersion: pv,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	key := kv.TokenKey(uid)
	if a.cfg.Policy == PolicyMulti {
		key = kv.DeviceTokenKey(uid, jti)
	}
	if err := a.store.Set(ctx, key, raw, a.cfg.TTL); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	return &AccessToken{
		Token:     raw,
		UserID:    uid,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Validate verifies signature and expiry, then checks store state:
// blacklist, password version and (single-device) that the presented
// token is still the current one. Store read errors fail closed — a
// revoked token must not slip through during a partial outage.
func (a *Authority) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := a.parse(raw, true)
	if err != nil {
		return nil, err
	}

	blacklisted, err := a.store.Exists(ctx, kv.BlacklistKey(raw))
	if err != nil {
		return nil, fmt.Errorf("blacklist check: %w", err)
	}
	if blacklisted {
		return nil, ErrTokenRevoked
	}

	stored, ok, err := a.store.Get(ctx, kv.PasswordVersionKey(claims.UID))
	if err != nil {
		return nil, fmt.Errorf("password version check: %w", err)
	}
	if ok && stored != fmt.Sprintf("%d", claims.PasswordVersion) {
		return nil, ErrTokenStale
	}

	switch a.cfg.Policy {
	case PolicySingle:
		current, ok, err := a.store.Get(ctx, kv.TokenKey(claims.UID))
		if err != nil {
			return nil, fmt.Errorf("current token check: %w", err)
		}
		if !ok {
			return nil, ErrTokenRevoked
		}
		if current != raw {
			return nil, ErrTokenSuperseded
		}
	case PolicyMulti:
		ok, err := a.store.Exists(ctx, kv.DeviceTokenKey(claims.UID, claims.ID))
		if err != nil {
			return nil, fmt.Errorf("device token check: %w", err)
		}
		if !ok {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Revoke blacklists raw for its remaining natural lifetime, removes the
// owning store key and announces the revocation on the bus. Revoking an
// already-revoked or expired token is a no-op, not an error.
func (a *Authority) Revoke(ctx context.Context, raw string) error {
	claims, err := a.parse(raw, false)
	if err != nil {
		return err
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining > 0 {
		// The blacklist entry must outlive the token's natural expiry
		// window to prevent replay.
		if err := a.store.Set(ctx, kv.BlacklistKey(raw), "1", remaining+time.Minute); err != nil {
			return fmt.Errorf("blacklist token: %w", err)
		}
	}

	switch a.cfg.Policy {
	case PolicySingle:
		// Only drop the per-user key if it still points at this token;
		// a newer login owns the key otherwise.
		current, ok, err := a.store.Get(ctx, kv.TokenKey(claims.UID))
		if err != nil {
			return fmt.Errorf("read current token: %w", err)
		}
		if ok && current == raw {
			if err := a.store.Del(ctx, kv.TokenKey(claims.UID)); err != nil {
				return fmt.Errorf("remove token key: %w", err)
			}
		}
	case PolicyMulti:
		if err := a.store.Del(ctx, kv.DeviceTokenKey(claims.UID, claims.ID)); err != nil {
			return fmt.Errorf("remove device token key: %w", err)
		}
	}

	if a.events != nil {
		if err := a.events.Publish(ctx, bus.TopicTokenRevoked, bus.TokenRevoked{Token: raw}); err != nil {
			// Best-effort fan-out: the blacklist already guarantees the
			// token is dead everywhere on next validation.
			a.log.Warn("revocation publish failed", "uid", claims.UID, "error", err)
		}
	}

	return nil
}

// BumpPasswordVersion invalidates every previously issued token for uid
// on its next validation, without enumerating outstanding tokens.
func (a *Authority) BumpPasswordVersion(ctx context.Context, uid string) error {
	if _, err := a.store.Incr(ctx, kv.PasswordVersionKey(uid)); err != nil {
		return fmt.Errorf("bump password version: %w", err)
	}
	return nil
}

// ExpiryOf reports the embedded expiry of a signed token without
// consulting the store. Used by the maintenance sweeper.
func (a *Authority) ExpiryOf(raw string) (time.Time, error) {
	claims, err := a.parse(raw, false)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (a *Authority) currentPasswordVersion(ctx context.Context, uid string) (int64, error) {
	// First login initializes the counter; a credential change bumps it.
	created, err := a.store.SetNX(ctx, kv.PasswordVersionKey(uid), "1", 0)
	if err != nil {
		return 0, fmt.Errorf("init password version: %w", err)
	}
	if created {
		return 1, nil
	}
	stored, ok, err := a.store.Get(ctx, kv.PasswordVersionKey(uid))
	if err != nil {
		return 0, fmt.Errorf("read password version: %w", err)
	}
	if !ok {
		return 0, errors.New("password version missing after init")
	}
	var pv int64
	if _, err := fmt.Sscanf(stored, "%d", &pv); err != nil {
		return 0, fmt.Errorf("parse password version %q: %w", stored, err)
	}
	return pv, nil
}

func (a *Authority) parse(raw string, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !validateClaims {
		// Revocation and sweeps still need claims out of expired tokens.
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UID == "" {
		return nil, fmt.Errorf("%w: missing uid claim", ErrInvalidToken)
	}
	return claims, nil
}
