package tokens

import "time"

type Purpose string

const (
	PurposeSignIn        Purpose = "sign_in"
	PurposePasswordReset Purpose = "password_reset"
)

// SingleUseToken is a sign-in or password-reset link. Only the SHA-256 of the
// raw token is stored.
type SingleUseToken struct {
	ID        uint64     `gorm:"primaryKey"`
	TokenHash string     `gorm:"column:token_hash;uniqueIndex;not null"`
	Purpose   Purpose    `gorm:"type:varchar(32);not null"`
	Email     string     `gorm:"index;not null"`
	CreatedAt time.Time  `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

func (SingleUseToken) TableName() string {
	return "single_use_tokens"
}

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Rank orders roles so that a higher rank satisfies any lower requirement.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Invitable reports whether r can be granted through an invitation.
func (r Role) Invitable() bool {
	return r == RoleEditor || r == RoleViewer
}

// Invitation grants email standing access to a resource once accepted.
type Invitation struct {
	ID           uint64     `gorm:"primaryKey"`
	TokenHash    string     `gorm:"column:token_hash;uniqueIndex;not null"`
	ResourceID   string     `gorm:"column:resource_id;index;not null"`
	InviterEmail string     `gorm:"column:inviter_email;not null"`
	Email        string     `gorm:"index;not null"`
	Role         Role       `gorm:"type:varchar(16);not null"`
	CreatedAt    time.Time  `gorm:"not null"`
	ExpiresAt    time.Time  `gorm:"index;not null"`
	UsedAt       *time.Time `gorm:"column:used_at"`
}

func (Invitation) TableName() string {
	return "invitations"
}
