package auth

import "time"

// Resource is the ownership record the role gate resolves owners from.
type Resource struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	OwnerID   string    `gorm:"column:owner_id;index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Resource) TableName() string {
	return "resources"
}
