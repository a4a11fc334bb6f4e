// Package identity exposes the read-only view of the external user directory
// that the dispatch core relies on for names, phones and roles.
package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/courierd/core/model"
)

// User is the subset of an account that dispatch needs.
type User struct {
	ID     string     `json:"id" yaml:"id"`
	Name   string     `json:"name" yaml:"name"`
	Phone  string     `json:"phone" yaml:"phone"`
	Role   model.Role `json:"role" yaml:"role"`
	Active bool       `json:"active" yaml:"active"`
}

// Directory is the consumed user service contract.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	ListUsersByRole(ctx context.Context, role model.Role) ([]User, error)
	IsActive(ctx context.Context, id string) (bool, error)
}

// MemoryDirectory is a Directory backed by a map. It is safe for concurrent use.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory returns a directory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, model.ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) ListUsersByRole(_ context.Context, role model.Role) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]User, 0)
	for _, u := range d.users {
		if u.Role == role {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (d *MemoryDirectory) IsActive(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return false, model.ErrNotFound
	}
	return u.Active, nil
}
