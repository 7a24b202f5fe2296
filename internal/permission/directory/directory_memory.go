// Package directory provides an in-memory organizational directory, used in
// tests and in deployments where the org chart is synced in at startup.
package directory

import (
	"context"
	"sync"

	"mathilda/internal/permission"
)

type MemoryDirectory struct {
	mu       sync.RWMutex
	users    map[string]permission.User
	managers map[string]string
}

var _ permission.Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:    make(map[string]permission.User),
		managers: make(map[string]string),
	}
}

// AddUser registers or replaces a user record.
func (d *MemoryDirectory) AddUser(user permission.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// SetManager records userID's direct manager.
func (d *MemoryDirectory) SetManager(userID, managerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.managers[userID] = managerID
}

func (d *MemoryDirectory) GetUser(_ context.Context, userID string) (*permission.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (d *MemoryDirectory) ManagerOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.managers[userID], nil
}
