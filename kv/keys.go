package kv

// Key builders for the auth key schema. Keeping them in one place keeps
// the store layout greppable and stops components from inventing ad-hoc
// key shapes.

const (
	tokenPrefix           = "auth:token:"
	blacklistPrefix       = "auth:token-blacklist:"
	passwordVersionPrefix = "auth:password-version:"
	permissionsPrefix     = "auth:permissions:"
)

// TokenKey is the current-token key for a user under single-device
// policy. Overwriting it implicitly invalidates the prior token.
func TokenKey(userID string) string {
	return tokenPrefix + userID
}

// DeviceTokenKey tracks one device's token independently under
// multi-device policy. jti is the token's unique id claim.
func DeviceTokenKey(userID, jti string) string {
	return tokenPrefix + userID + ":" + jti
}

// TokenKeyPattern matches every live token key, both policies. Used by
// the expired-token sweeper.
func TokenKeyPattern() string {
	return tokenPrefix + "*"
}

// BlacklistKey marks a token revoked before its natural expiry.
func BlacklistKey(token string) string {
	return blacklistPrefix + token
}

// PasswordVersionKey holds the per-user monotonic credential counter.
func PasswordVersionKey(userID string) string {
	return passwordVersionPrefix + userID
}

// PermissionsKey caches the user's effective permission list.
func PermissionsKey(userID string) string {
	return permissionsPrefix + userID
}
