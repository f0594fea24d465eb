package users

import "time"

// User is the application's view of an account. ID always equals the
// identity provider's subject id for the same email.
type User struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email       string     `gorm:"uniqueIndex;not null" json:"email"`
	Name        string     `json:"name"`
	IsAdmin     bool       `gorm:"not null;default:false" json:"isAdmin"`
	Tier        string     `gorm:"not null;default:free" json:"tier"`
	TrialEndsAt *time.Time `json:"trialEndsAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
