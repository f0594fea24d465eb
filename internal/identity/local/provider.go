// Package local is the embedded identity provider: password accounts, HS256
// access tokens and rotating refresh sessions stored with gorm.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/securetoken"
)

type Provider struct {
	db     *gorm.DB
	config *config.AuthConfig
	log    *zap.Logger
	secret []byte
	cost   int
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

type accessClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func NewProvider(cfg *config.AuthConfig, db *gorm.DB, log *zap.Logger) *Provider {
	return &Provider{
		db:     db,
		config: cfg,
		log:    log,
		secret: []byte(cfg.JWTSecret),
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

func (p *Provider) hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	return string(bytes), err
}

func (p *Provider) checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burnHash spends the same work as a real comparison for unknown accounts.
func (p *Provider) burnHash(password string) {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("memorial-auth"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
}

func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*identity.Account, error) {
	now := p.now().UTC()
	account := &Account{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if password != "" {
		hash, err := p.hashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		account.PasswordHash = &hash
	}

	if err := p.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, identity.ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return toIdentity(account), nil
}

func (p *Provider) LookupAccount(ctx context.Context, email string) (*identity.Account, error) {
	account, err := p.accountBy(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	return toIdentity(account), nil
}

func (p *Provider) VerifyPassword(ctx context.Context, email, password string) (*identity.Account, error) {
	account, err := p.accountBy(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			p.burnHash(password)
		}
		return nil, err
	}
	if account.PasswordHash == nil {
		p.burnHash(password)
		return nil, identity.ErrInvalidCredentials
	}
	if !p.checkPasswordHash(password, *account.PasswordHash) {
		return nil, identity.ErrInvalidCredentials
	}
	return toIdentity(account), nil
}

// UpdatePassword replaces the password and revokes every open session of the
// account.
func (p *Provider) UpdatePassword(ctx context.Context, accountID, password string) error {
	hash, err := p.hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := p.now().UTC()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Account{}).
			Where("id = ?", accountID).
			Updates(map[string]any{"password_hash": hash, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return identity.ErrAccountNotFound
		}
		return tx.Model(&Session{}).
			Where("account_id = ? AND revoked_at IS NULL", accountID).
			Update("revoked_at", now).Error
	})
}

func (p *Provider) IssueSession(ctx context.Context, accountID string, opts identity.SessionOptions) (*identity.Session, error) {
	account, err := p.accountBy(ctx, "id = ?", accountID)
	if err != nil {
		return nil, err
	}
	return p.newSession(ctx, account, opts.Remember, p.now().UTC())
}

// RefreshSession rotates a refresh token. Presenting a token that was already
// rotated out revokes every session of the account.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, identity.ErrInvalidRefreshToken
	}
	now := p.now().UTC()

	var current Session
	err := p.db.WithContext(ctx).
		Where("refresh_token_hash = ?", securetoken.Hash(refreshToken)).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if current.RevokedAt != nil {
		p.log.Warn("revoked refresh token presented, revoking all sessions",
			zap.String("account_id", current.AccountID),
			zap.String("session_id", current.ID))
		if err := p.revokeAll(ctx, current.AccountID, now); err != nil {
			p.log.Error("failed to revoke sessions", zap.Error(err))
		}
		return nil, identity.ErrInvalidRefreshToken
	}
	if !now.Before(current.ExpiresAt) {
		return nil, identity.ErrInvalidRefreshToken
	}

	res := p.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", current.ID).
		Update("revoked_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("rotate session: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, identity.ErrInvalidRefreshToken
	}

	account, err := p.accountBy(ctx, "id = ?", current.AccountID)
	if err != nil {
		return nil, err
	}
	return p.newSession(ctx, account, current.Remember, now)
}

// Revoke ends the session an access token belongs to. Expired tokens are
// accepted so a stale cookie can still log out.
func (p *Provider) Revoke(ctx context.Context, accessToken string) error {
	claims, err := p.parse(accessToken, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", claims.SessionID).
		Update("revoked_at", p.now().UTC()).Error
}

func (p *Provider) ValidateAccessToken(ctx context.Context, accessToken string) (*identity.Claims, error) {
	claims, err := p.parse(accessToken, jwt.WithIssuer(p.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	var active int64
	err = p.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", claims.SessionID).
		Count(&active).Error
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if active == 0 {
		return nil, identity.ErrInvalidAccessToken
	}

	return &identity.Claims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// PurgeSessions deletes sessions revoked before revokedBefore and sessions
// whose refresh window has closed.
func (p *Provider) PurgeSessions(ctx context.Context, revokedBefore time.Time) (int64, error) {
	res := p.db.WithContext(ctx).
		Where("revoked_at < ? OR expires_at < ?", revokedBefore, p.now().UTC()).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}

func (p *Provider) newSession(ctx context.Context, account *Account, remember bool, now time.Time) (*identity.Session, error) {
	refresh, err := securetoken.Generate()
	if err != nil {
		return nil, err
	}

	ttl := p.config.RefreshTokenDuration
	if remember {
		ttl = p.config.RememberRefreshDuration
	}
	session := &Session{
		ID:               uuid.NewString(),
		AccountID:        account.ID,
		RefreshTokenHash: securetoken.Hash(refresh),
		Remember:         remember,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}
	if err := p.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessExpires := now.Add(p.config.AccessTokenDuration)
	claims := &accessClaims{
		Email:     account.Email,
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.config.Issuer,
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(accessExpires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &identity.Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpires,
		RefreshExpiresAt: session.ExpiresAt,
		Remember:         remember,
	}, nil
}

func (p *Provider) parse(tokenString string, opts ...jwt.ParserOption) (*accessClaims, error) {
	if tokenString == "" {
		return nil, identity.ErrInvalidAccessToken
	}

	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrInvalidAccessToken, err)
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, identity.ErrInvalidAccessToken
	}
	return claims, nil
}

func (p *Provider) revokeAll(ctx context.Context, accountID string, now time.Time) error {
	return p.db.WithContext(ctx).
		Model(&Session{}).
		Where("account_id = ? AND revoked_at IS NULL", accountID).
		Update("revoked_at", now).Error
}

func (p *Provider) accountBy(ctx context.Context, cond string, value string) (*Account, error) {
	var account Account
	if err := p.db.WithContext(ctx).Where(cond, value).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &account, nil
}

func toIdentity(a *Account) *identity.Account {
	return &identity.Account{
		ID:        a.ID,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}
