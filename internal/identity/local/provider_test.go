package local

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/database/dbtest"
	"github.com/elskow/memorial-auth/internal/identity"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestProvider(t *testing.T) (*Provider, *clock) {
	cfg := &config.AuthConfig{
		JWTSecret:               "test-secret",
		Issuer:                  "memorial-auth",
		AccessTokenDuration:     time.Hour,
		RefreshTokenDuration:    7 * 24 * time.Hour,
		RememberRefreshDuration: 90 * 24 * time.Hour,
	}
	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	p := NewProvider(cfg, dbtest.New(t, &Account{}, &Session{}), zaptest.NewLogger(t))
	p.cost = bcrypt.MinCost
	p.now = c.Now
	return p, c
}

func TestProvider_CreateAndVerify(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "Jane@Example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", account.Email)

	_, err = p.CreateAccount(ctx, "jane@example.com", "other")
	assert.ErrorIs(t, err, identity.ErrAccountExists)

	verified, err := p.VerifyPassword(ctx, "jane@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, account.ID, verified.ID)

	_, err = p.VerifyPassword(ctx, "jane@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = p.VerifyPassword(ctx, "nobody@example.com", "x")
	assert.ErrorIs(t, err, identity.ErrAccountNotFound)
}

func TestProvider_PasswordlessAccountRejectsPasswords(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "")
	require.NoError(t, err)

	_, err = p.VerifyPassword(ctx, "jane@example.com", "")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	require.NoError(t, p.UpdatePassword(ctx, account.ID, "now-has-one"))
	_, err = p.VerifyPassword(ctx, "jane@example.com", "now-has-one")
	assert.NoError(t, err)

	assert.ErrorIs(t, p.UpdatePassword(ctx, "missing", "x"), identity.ErrAccountNotFound)
}

func TestProvider_SessionLifecycle(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "pw")
	require.NoError(t, err)

	session, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{})
	require.NoError(t, err)
	assert.Equal(t, c.now.Add(7*24*time.Hour), session.RefreshExpiresAt)

	claims, err := p.ValidateAccessToken(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)
	assert.Equal(t, "jane@example.com", claims.Email)

	c.Advance(time.Hour + time.Second)
	_, err = p.ValidateAccessToken(ctx, session.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)

	rotated, err := p.RefreshSession(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.False(t, rotated.Remember)

	_, err = p.ValidateAccessToken(ctx, rotated.AccessToken)
	require.NoError(t, err)

	require.NoError(t, p.Revoke(ctx, rotated.AccessToken))
	_, err = p.ValidateAccessToken(ctx, rotated.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)
}

func TestProvider_RememberExtendsRefreshWindow(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "")
	require.NoError(t, err)

	session, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{Remember: true})
	require.NoError(t, err)
	assert.Equal(t, c.now.Add(90*24*time.Hour), session.RefreshExpiresAt)

	c.Advance(30 * 24 * time.Hour)
	rotated, err := p.RefreshSession(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rotated.Remember, "remember survives rotation")
}

func TestProvider_RefreshReuseRevokesAllSessions(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "")
	require.NoError(t, err)
	session, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{})
	require.NoError(t, err)

	rotated, err := p.RefreshSession(ctx, session.RefreshToken)
	require.NoError(t, err)

	_, err = p.RefreshSession(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)

	_, err = p.RefreshSession(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken, "successor is revoked after re-use")
}

func TestProvider_RefreshExpired(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "")
	require.NoError(t, err)
	session, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{})
	require.NoError(t, err)

	c.Advance(7 * 24 * time.Hour)
	_, err = p.RefreshSession(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)

	_, err = p.RefreshSession(ctx, "")
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)
}

func TestProvider_RejectsForeignTokens(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &accessClaims{
		SessionID: "s",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "memorial-auth",
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret"))
	require.NoError(t, err)

	_, err = p.ValidateAccessToken(ctx, forged)
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)

	_, err = p.ValidateAccessToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)
}

func TestProvider_UpdatePasswordRevokesSessions(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "old")
	require.NoError(t, err)
	session, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{})
	require.NoError(t, err)

	require.NoError(t, p.UpdatePassword(ctx, account.ID, "new"))

	_, err = p.ValidateAccessToken(ctx, session.AccessToken)
	assert.ErrorIs(t, err, identity.ErrInvalidAccessToken)
	_, err = p.VerifyPassword(ctx, "jane@example.com", "new")
	assert.NoError(t, err)
}

func TestProvider_PurgeSessions(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	account, err := p.CreateAccount(ctx, "jane@example.com", "")
	require.NoError(t, err)

	first, err := p.IssueSession(ctx, account.ID, identity.SessionOptions{})
	require.NoError(t, err)
	_, err = p.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)

	c.Advance(25 * time.Hour)
	removed, err := p.PurgeSessions(ctx, c.now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "only the rotated-out session is purged")
}
