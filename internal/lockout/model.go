package lockout

import "time"

// ReasonLocked marks attempts rejected because the account was already
// locked. They are kept for auditing but never counted toward a lockout.
const ReasonLocked = "locked"

const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonUnknownAccount     = "unknown_account"
)

type LoginAttempt struct {
	ID            uint64    `gorm:"primaryKey"`
	Email         string    `gorm:"index;not null"`
	IPAddress     string    `gorm:"column:ip_address;index;not null"`
	Success       bool      `gorm:"not null"`
	FailureReason *string   `gorm:"column:failure_reason"`
	UserAgent     string    `gorm:"column:user_agent"`
	CreatedAt     time.Time `gorm:"index;not null"`
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

// Status is the lockout state derived from recent attempts.
type Status struct {
	Locked            bool
	LockoutEndsAt     time.Time
	AttemptsRemaining int
}
