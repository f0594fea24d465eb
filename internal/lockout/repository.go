package lockout

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, attempt *LoginAttempt) error
	// FailuresByEmail returns the timestamps of counted failures for email
	// newer than since, oldest first.
	FailuresByEmail(ctx context.Context, email string, since time.Time) ([]time.Time, error)
	FailuresByOrigin(ctx context.Context, origin string, since time.Time) ([]time.Time, error)
	DeleteFailures(ctx context.Context, email string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, attempt *LoginAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) FailuresByEmail(ctx context.Context, email string, since time.Time) ([]time.Time, error) {
	return r.failures(ctx, "email = ?", email, since)
}

func (r *repository) FailuresByOrigin(ctx context.Context, origin string, since time.Time) ([]time.Time, error) {
	return r.failures(ctx, "ip_address = ?", origin, since)
}

func (r *repository) failures(ctx context.Context, cond string, value string, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).
		Model(&LoginAttempt{}).
		Where(cond, value).
		Where("success = ?", false).
		Where("(failure_reason IS NULL OR failure_reason <> ?)", ReasonLocked).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Pluck("created_at", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}

func (r *repository) DeleteFailures(ctx context.Context, email string) error {
	return r.db.WithContext(ctx).
		Where("email = ? AND success = ?", email, false).
		Delete(&LoginAttempt{}).Error
}

func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&LoginAttempt{})
	return res.RowsAffected, res.Error
}
