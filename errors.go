package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned by Login for unknown users and
	// wrong passwords alike; callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserNotFound is returned by directory-backed operations that
	// address a specific user id.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordUpdateUnsupported is returned by ChangePassword when
	// the configured user directory cannot persist credentials.
	ErrPasswordUpdateUnsupported = errors.New("user directory does not support password updates")
)
