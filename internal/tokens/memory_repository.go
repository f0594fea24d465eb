package tokens

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDuplicateHash = errors.New("token hash already exists")

type memoryRepository struct {
	tokens      map[string]SingleUseToken
	invitations map[string]Invitation
	nextID      uint64
	mu          sync.Mutex
}

// NewMemoryRepository returns a process-local Repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		tokens:      make(map[string]SingleUseToken),
		invitations: make(map[string]Invitation),
	}
}

func (r *memoryRepository) CreateToken(_ context.Context, token *SingleUseToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.TokenHash]; exists {
		return errDuplicateHash
	}
	r.nextID++
	token.ID = r.nextID
	r.tokens[token.TokenHash] = *token
	return nil
}

func (r *memoryRepository) FindToken(_ context.Context, hash string, purpose Purpose) (*SingleUseToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[hash]
	if !ok || token.Purpose != purpose {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (r *memoryRepository) MarkTokenUsed(_ context.Context, hash string, purpose Purpose, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[hash]
	if !ok || token.Purpose != purpose || token.UsedAt != nil || !token.ExpiresAt.After(now) {
		return false, nil
	}
	usedAt := now
	token.UsedAt = &usedAt
	r.tokens[hash] = token
	return true, nil
}

func (r *memoryRepository) DeleteToken(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, hash)
	return nil
}

func (r *memoryRepository) CreateInvitation(_ context.Context, invitation *Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invitations[invitation.TokenHash]; exists {
		return errDuplicateHash
	}
	r.nextID++
	invitation.ID = r.nextID
	r.invitations[invitation.TokenHash] = *invitation
	return nil
}

func (r *memoryRepository) FindInvitation(_ context.Context, hash string) (*Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	invitation, ok := r.invitations[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &invitation, nil
}

func (r *memoryRepository) MarkInvitationUsed(_ context.Context, hash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	invitation, ok := r.invitations[hash]
	if !ok || invitation.UsedAt != nil || !invitation.ExpiresAt.After(now) {
		return false, nil
	}
	usedAt := now
	invitation.UsedAt = &usedAt
	r.invitations[hash] = invitation
	return true, nil
}

func (r *memoryRepository) DeleteInvitation(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.invitations, hash)
	return nil
}

func (r *memoryRepository) AcceptedRoles(_ context.Context, resourceID, email string) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var roles []Role
	for _, inv := range r.invitations {
		if inv.ResourceID == resourceID && inv.Email == email && inv.UsedAt != nil {
			roles = append(roles, inv.Role)
		}
	}
	return roles, nil
}

func (r *memoryRepository) DeleteStaleTokens(_ context.Context, now, usedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for hash, token := range r.tokens {
		if token.ExpiresAt.Before(now) || (token.UsedAt != nil && token.UsedAt.Before(usedBefore)) {
			delete(r.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

func (r *memoryRepository) DeleteExpiredInvitations(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for hash, inv := range r.invitations {
		if inv.UsedAt == nil && inv.ExpiresAt.Before(now) {
			delete(r.invitations, hash)
			removed++
		}
	}
	return removed, nil
}
