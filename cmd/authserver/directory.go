package main

import (
	"context"
	"sync"

	"github.com/mshop-dev/authcore"
	"github.com/mshop-dev/authcore/internal"
)

// seedDirectory is an in-memory user and role directory seeded at
// startup. A real deployment plugs a database-backed implementation
// into the builder instead.
type seedDirectory struct {
	mu    sync.RWMutex
	users map[string]*authcore.UserRecord
	perms map[string][]string
}

func newSeedDirectory(password string) (*seedDirectory, error) {
	d := &seedDirectory{
		users: make(map[string]*authcore.UserRecord),
		perms: map[string][]string{
			"admin":   {"system:user:list", "system:role:list"},
			"support": {"system:user:list"},
		},
	}
	for _, u := range []struct {
		name string
		role string
	}{
		{"admin", "admin"},
		{"support", "support"},
	} {
		if err := d.seed(u.name, password, u.role); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *seedDirectory) seed(username, password string, roles ...string) error {
	salt, err := internal.NewSalt()
	if err != nil {
		return err
	}
	d.users[username] = &authcore.UserRecord{
		ID:           "u-" + username,
		Username:     username,
		PasswordHash: internal.LegacyHash(password, salt),
		Salt:         salt,
		Roles:        roles,
	}
	return nil
}

func (d *seedDirectory) FindByCredential(_ context.Context, credential string) (*authcore.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[credential]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (d *seedDirectory) FindByID(_ context.Context, id string) (*authcore.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (d *seedDirectory) UpdatePassword(_ context.Context, userID, passwordHash, salt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			u.Salt = salt
			return nil
		}
	}
	return authcore.ErrUserNotFound
}

func (d *seedDirectory) PermissionsByRoles(_ context.Context, roles []string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, role := range roles {
		out = append(out, d.perms[role]...)
	}
	return out, nil
}
