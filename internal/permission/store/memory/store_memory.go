// Package memory provides an in-memory custom-permissions store for tests
// and single-process deployments.
package memory

import (
	"context"
	"sync"

	"mathilda/internal/permission"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	perms map[string]permission.CustomPermissions
}

var _ permission.Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{perms: make(map[string]permission.CustomPermissions)}
}

func (s *InMemoryStore) Load(_ context.Context) ([]permission.CustomPermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]permission.CustomPermissions, 0, len(s.perms))
	for _, perms := range s.perms {
		all = append(all, clone(perms))
	}
	return all, nil
}

func (s *InMemoryStore) Save(_ context.Context, perms permission.CustomPermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[perms.UserID] = clone(perms)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.perms, userID)
	return nil
}

func clone(perms permission.CustomPermissions) permission.CustomPermissions {
	return permission.CustomPermissions{
		UserID:  perms.UserID,
		Granted: append([]permission.Permission{}, perms.Granted...),
		Denied:  append([]permission.Permission{}, perms.Denied...),
	}
}
