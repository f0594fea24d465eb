// Package tokens issues and redeems single-use, time-boxed tokens: sign-in
// links, password-reset links and collaboration invitations.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/securetoken"
)

var (
	ErrNotFound      = errors.New("token not found")
	ErrAlreadyUsed   = errors.New("token already used")
	ErrExpired       = errors.New("token expired")
	ErrEmailDelivery = errors.New("token email delivery failed")
	ErrInvalidRole   = errors.New("role cannot be granted by invitation")
)

// DeliverFunc sends a freshly issued raw token to its recipient.
type DeliverFunc func(token string) error

type Manager struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewManager(repo Repository, log *zap.Logger) *Manager {
	return &Manager{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// Issue persists a new token for email and hands it to deliver. If delivery
// fails the token is removed again and ErrEmailDelivery is returned.
func (m *Manager) Issue(ctx context.Context, purpose Purpose, email string, ttl time.Duration, deliver DeliverFunc) (string, error) {
	raw, err := securetoken.Generate()
	if err != nil {
		return "", err
	}

	now := m.now().UTC()
	record := &SingleUseToken{
		TokenHash: securetoken.Hash(raw),
		Purpose:   purpose,
		Email:     normalizeEmail(email),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.repo.CreateToken(ctx, record); err != nil {
		return "", fmt.Errorf("store %s token: %w", purpose, err)
	}

	if err := deliver(raw); err != nil {
		if delErr := m.repo.DeleteToken(ctx, record.TokenHash); delErr != nil {
			m.log.Error("failed to roll back undelivered token",
				zap.String("purpose", string(purpose)),
				zap.Error(delErr))
		}
		return "", fmt.Errorf("%w: %w", ErrEmailDelivery, err)
	}
	return raw, nil
}

// Peek returns the token record without consuming it.
func (m *Manager) Peek(ctx context.Context, purpose Purpose, token string) (*SingleUseToken, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	record, err := m.repo.FindToken(ctx, securetoken.Hash(token), purpose)
	if err != nil {
		return nil, err
	}
	if err := redeemable(record.ExpiresAt, record.UsedAt, m.now()); err != nil {
		return nil, err
	}
	return record, nil
}

// Consume marks the token used. Among concurrent callers exactly one
// succeeds.
func (m *Manager) Consume(ctx context.Context, purpose Purpose, token string) (*SingleUseToken, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	hash := securetoken.Hash(token)

	won, err := m.repo.MarkTokenUsed(ctx, hash, purpose, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("consume %s token: %w", purpose, err)
	}

	record, err := m.repo.FindToken(ctx, hash, purpose)
	if err != nil {
		return nil, err
	}
	if won {
		return record, nil
	}
	if err := redeemable(record.ExpiresAt, record.UsedAt, m.now()); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyUsed
}

// InvitationRequest describes an invitation to be issued.
type InvitationRequest struct {
	ResourceID   string
	InviterEmail string
	Email        string
	Role         Role
}

func (m *Manager) IssueInvitation(ctx context.Context, req InvitationRequest, ttl time.Duration, deliver DeliverFunc) (string, error) {
	if !req.Role.Invitable() {
		return "", ErrInvalidRole
	}

	raw, err := securetoken.Generate()
	if err != nil {
		return "", err
	}

	now := m.now().UTC()
	invitation := &Invitation{
		TokenHash:    securetoken.Hash(raw),
		ResourceID:   req.ResourceID,
		InviterEmail: normalizeEmail(req.InviterEmail),
		Email:        normalizeEmail(req.Email),
		Role:         req.Role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := m.repo.CreateInvitation(ctx, invitation); err != nil {
		return "", fmt.Errorf("store invitation: %w", err)
	}

	if err := deliver(raw); err != nil {
		if delErr := m.repo.DeleteInvitation(ctx, invitation.TokenHash); delErr != nil {
			m.log.Error("failed to roll back undelivered invitation",
				zap.String("resource_id", req.ResourceID),
				zap.Error(delErr))
		}
		return "", fmt.Errorf("%w: %w", ErrEmailDelivery, err)
	}
	return raw, nil
}

func (m *Manager) PeekInvitation(ctx context.Context, token string) (*Invitation, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	invitation, err := m.repo.FindInvitation(ctx, securetoken.Hash(token))
	if err != nil {
		return nil, err
	}
	if err := redeemable(invitation.ExpiresAt, invitation.UsedAt, m.now()); err != nil {
		return nil, err
	}
	return invitation, nil
}

// ConsumeInvitation accepts the invitation, granting its role on the
// resource. It never creates a session.
func (m *Manager) ConsumeInvitation(ctx context.Context, token string) (*Invitation, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	hash := securetoken.Hash(token)

	won, err := m.repo.MarkInvitationUsed(ctx, hash, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("consume invitation: %w", err)
	}

	invitation, err := m.repo.FindInvitation(ctx, hash)
	if err != nil {
		return nil, err
	}
	if won {
		m.log.Info("invitation accepted",
			zap.String("resource_id", invitation.ResourceID),
			zap.String("email", invitation.Email),
			zap.String("role", string(invitation.Role)))
		return invitation, nil
	}
	if err := redeemable(invitation.ExpiresAt, invitation.UsedAt, m.now()); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyUsed
}

// HasAccess reports whether email holds an accepted invitation on resourceID
// at minRole or above.
func (m *Manager) HasAccess(ctx context.Context, resourceID, email string, minRole Role) (bool, error) {
	roles, err := m.repo.AcceptedRoles(ctx, resourceID, normalizeEmail(email))
	if err != nil {
		return false, fmt.Errorf("load granted roles: %w", err)
	}
	for _, role := range roles {
		if role.Rank() >= minRole.Rank() {
			return true, nil
		}
	}
	return false, nil
}

// DeleteStale removes expired tokens, tokens used before now-usedRetention
// and expired invitations that were never accepted.
func (m *Manager) DeleteStale(ctx context.Context, usedRetention time.Duration) (tokens, invitations int64, err error) {
	now := m.now().UTC()
	tokens, err = m.repo.DeleteStaleTokens(ctx, now, now.Add(-usedRetention))
	if err != nil {
		return 0, 0, fmt.Errorf("delete stale tokens: %w", err)
	}
	invitations, err = m.repo.DeleteExpiredInvitations(ctx, now)
	if err != nil {
		return tokens, 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	return tokens, invitations, nil
}

// redeemable checks expiry before use so an expired token always reports
// ErrExpired.
func redeemable(expiresAt time.Time, usedAt *time.Time, now time.Time) error {
	if !now.Before(expiresAt) {
		return ErrExpired
	}
	if usedAt != nil {
		return ErrAlreadyUsed
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
