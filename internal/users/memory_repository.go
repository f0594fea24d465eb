package users

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	byID map[string]*User
	mu   sync.RWMutex
}

// NewMemoryRepository returns a process-local Repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]*User)}
}

func (r *memoryRepository) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[user.ID]; exists {
		return ErrUserExists
	}
	for _, u := range r.byID {
		if u.Email == user.Email {
			return ErrUserExists
		}
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	stored := *user
	r.byID[user.ID] = &stored
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (r *memoryRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryRepository) UpdateID(_ context.Context, oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[oldID]
	if !ok {
		return ErrUserNotFound
	}
	if _, taken := r.byID[newID]; taken {
		return ErrUserExists
	}
	delete(r.byID, oldID)
	user.ID = newID
	user.UpdatedAt = time.Now()
	r.byID[newID] = user
	return nil
}
