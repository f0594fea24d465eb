package auth

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type ResourceRepository interface {
	Create(ctx context.Context, resource *Resource) error
	// OwnerOf returns ErrResourceNotFound for unknown ids.
	OwnerOf(ctx context.Context, resourceID string) (string, error)
}

type resourceRepository struct {
	db *gorm.DB
}

func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) Create(ctx context.Context, resource *Resource) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *resourceRepository) OwnerOf(ctx context.Context, resourceID string) (string, error) {
	var resource Resource
	err := r.db.WithContext(ctx).
		Select("id", "owner_id").
		Where("id = ?", resourceID).
		First(&resource).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrResourceNotFound
		}
		return "", err
	}
	return resource.OwnerID, nil
}
