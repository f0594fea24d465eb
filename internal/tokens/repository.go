package tokens

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	CreateToken(ctx context.Context, token *SingleUseToken) error
	FindToken(ctx context.Context, hash string, purpose Purpose) (*SingleUseToken, error)
	// MarkTokenUsed sets used_at only if the token is unused and unexpired at
	// now. It reports whether this call made the change.
	MarkTokenUsed(ctx context.Context, hash string, purpose Purpose, now time.Time) (bool, error)
	DeleteToken(ctx context.Context, hash string) error

	CreateInvitation(ctx context.Context, invitation *Invitation) error
	FindInvitation(ctx context.Context, hash string) (*Invitation, error)
	MarkInvitationUsed(ctx context.Context, hash string, now time.Time) (bool, error)
	DeleteInvitation(ctx context.Context, hash string) error
	AcceptedRoles(ctx context.Context, resourceID, email string) ([]Role, error)

	DeleteStaleTokens(ctx context.Context, now, usedBefore time.Time) (int64, error)
	DeleteExpiredInvitations(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateToken(ctx context.Context, token *SingleUseToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *repository) FindToken(ctx context.Context, hash string, purpose Purpose) (*SingleUseToken, error) {
	var token SingleUseToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND purpose = ?", hash, purpose).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *repository) MarkTokenUsed(ctx context.Context, hash string, purpose Purpose, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&SingleUseToken{}).
		Where("token_hash = ? AND purpose = ?", hash, purpose).
		Where("used_at IS NULL AND expires_at > ?", now).
		Update("used_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteToken(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&SingleUseToken{}).Error
}

func (r *repository) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	return r.db.WithContext(ctx).Create(invitation).Error
}

func (r *repository) FindInvitation(ctx context.Context, hash string) (*Invitation, error) {
	var invitation Invitation
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

func (r *repository) MarkInvitationUsed(ctx context.Context, hash string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("token_hash = ?", hash).
		Where("used_at IS NULL AND expires_at > ?", now).
		Update("used_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteInvitation(ctx context.Context, hash string) error {
	return r.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&Invitation{}).Error
}

func (r *repository) AcceptedRoles(ctx context.Context, resourceID, email string) ([]Role, error) {
	var roles []Role
	err := r.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("resource_id = ? AND email = ? AND used_at IS NOT NULL", resourceID, email).
		Pluck("role", &roles).Error
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *repository) DeleteStaleTokens(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR used_at < ?", now, usedBefore).
		Delete(&SingleUseToken{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteExpiredInvitations(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("used_at IS NULL AND expires_at < ?", now).
		Delete(&Invitation{})
	return res.RowsAffected, res.Error
}
