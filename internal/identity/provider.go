// Package identity defines the capability the service needs from an identity
// provider and keeps local users aligned with provider accounts.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidAccessToken  = errors.New("invalid access token")
)

type Account struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type SessionOptions struct {
	Remember bool
}

// Session is a credential pair minted by the provider.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Remember         bool
}

// Claims are the verified contents of an access token.
type Claims struct {
	Subject   string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// Provider is the identity provider capability. Accounts created without a
// password can only sign in through links or federation.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (*Account, error)
	LookupAccount(ctx context.Context, email string) (*Account, error)
	// VerifyPassword returns ErrAccountNotFound for unknown emails and
	// ErrInvalidCredentials for a wrong or missing password.
	VerifyPassword(ctx context.Context, email, password string) (*Account, error)
	UpdatePassword(ctx context.Context, accountID, password string) error
	IssueSession(ctx context.Context, accountID string, opts SessionOptions) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	Revoke(ctx context.Context, accessToken string) error
	ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error)
}
