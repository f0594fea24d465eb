package auth

import (
	"context"
	"sync"
)

type mockResourceRepository struct {
	owners map[string]string
	mu     sync.RWMutex
}

func newMockResourceRepository() *mockResourceRepository {
	return &mockResourceRepository{owners: make(map[string]string)}
}

func (r *mockResourceRepository) Create(_ context.Context, resource *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[resource.ID] = resource.OwnerID
	return nil
}

func (r *mockResourceRepository) OwnerOf(_ context.Context, resourceID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[resourceID]
	if !ok {
		return "", ErrResourceNotFound
	}
	return owner, nil
}
