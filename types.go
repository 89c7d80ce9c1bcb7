package authcore

import (
	"context"

	"github.com/mshop-dev/authcore/permission"
)

// UserRecord is the user-directory view the core needs: identity,
// stored credential material and role assignment. Everything else about
// a user stays with the directory.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Salt         string
	Roles        []string
}

// UserDirectory is the external user-store collaborator. Lookups are
// synchronous request/response calls with no internal retry; errors
// propagate to the caller.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	// FindByCredential resolves a login name (username or email) to a
	// user record, or (nil, nil) when no such user exists.
	FindByCredential(ctx context.Context, credential string) (*UserRecord, error)
}

// PasswordUpdater is optionally implemented by directories that can
// persist credential changes. ChangePassword requires it.
type PasswordUpdater interface {
	UpdatePassword(ctx context.Context, userID, passwordHash, salt string) error
}

// RoleDirectory resolves role values to permission codes. See
// [permission.RoleDirectory].
type RoleDirectory = permission.RoleDirectory
