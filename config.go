package authcore

import (
	"errors"
	"time"

	"github.com/mshop-dev/authcore/token"
)

// DevicePolicy values accepted by Config.
const (
	PolicySingleDevice = "single"
	PolicyMultiDevice  = "multi"
)

// Config holds everything the core needs at build time. A missing
// signing secret or an unknown device policy is fatal at startup, never
// a per-request condition.
type Config struct {
	// Namespace prefixes every store key and bus channel so co-tenants
	// can share one deployment.
	Namespace string

	// Secret signs access tokens (HS256).
	Secret string
	// TokenTTL is the access token lifetime and the TTL of its
	// mirrored store entry.
	TokenTTL time.Duration
	// Issuer lands in the token's iss claim.
	Issuer string

	// DevicePolicy is "single" (a new login invalidates the previous
	// one) or "multi" (tokens are tracked and revoked per device).
	DevicePolicy string

	// RootRole short-circuits every permission check.
	RootRole string

	// Heartbeat is the realtime ping cadence; the read deadline is
	// twice this.
	Heartbeat time.Duration

	// LeaderTTL bounds how long a crashed leader blocks maintenance
	// takeover.
	LeaderTTL time.Duration
}

// DefaultConfig returns the starting configuration the builder uses
// before WithConfig. A Secret must still be supplied.
func DefaultConfig() Config {
	return Config{
		Namespace:    "mshop",
		TokenTTL:     24 * time.Hour,
		Issuer:       "authcore",
		DevicePolicy: PolicySingleDevice,
		RootRole:     "admin",
		Heartbeat:    30 * time.Second,
		LeaderTTL:    30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Secret == "" {
		return errors.New("config: signing secret is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	if c.DevicePolicy != PolicySingleDevice && c.DevicePolicy != PolicyMultiDevice {
		return errors.New("config: device policy must be \"single\" or \"multi\"")
	}
	return nil
}

func (c Config) tokenPolicy() token.DevicePolicy {
	if c.DevicePolicy == PolicyMultiDevice {
		return token.PolicyMulti
	}
	return token.PolicySingle
}
