package local

import "time"

type Account struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash *string   `gorm:"column:password_hash"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string {
	return "provider_accounts"
}

// Session is one refresh credential. Rotation revokes the row and creates a
// successor.
type Session struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)"`
	AccountID        string     `gorm:"column:account_id;index;not null"`
	RefreshTokenHash string     `gorm:"column:refresh_token_hash;uniqueIndex;not null"`
	Remember         bool       `gorm:"not null;default:false"`
	ExpiresAt        time.Time  `gorm:"index;not null"`
	RevokedAt        *time.Time `gorm:"column:revoked_at"`
	CreatedAt        time.Time  `gorm:"not null"`
}

func (Session) TableName() string {
	return "provider_sessions"
}
