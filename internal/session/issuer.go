// Package session turns identity provider sessions into http-only cookies.
package session

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/identity"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// Pair is the credential pair written to the response.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Remember         bool
}

type Issuer struct {
	provider identity.Provider
	config   *config.AuthConfig
	log      *zap.Logger
}

func NewIssuer(cfg *config.AuthConfig, provider identity.Provider, log *zap.Logger) *Issuer {
	return &Issuer{
		provider: provider,
		config:   cfg,
		log:      log,
	}
}

// Issue mints a session for accountID and sets both cookies on w.
func (i *Issuer) Issue(ctx context.Context, w http.ResponseWriter, accountID string, remember bool) (*Pair, error) {
	s, err := i.provider.IssueSession(ctx, accountID, identity.SessionOptions{Remember: remember})
	if err != nil {
		return nil, err
	}
	return i.write(w, s), nil
}

// Refresh rotates refreshToken and rewrites both cookies, keeping the
// remember-me choice of the original session.
func (i *Issuer) Refresh(ctx context.Context, w http.ResponseWriter, refreshToken string) (*Pair, error) {
	s, err := i.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return i.write(w, s), nil
}

// Revoke asks the provider to end the session and clears the cookies. The
// cookies are cleared even if the provider call fails.
func (i *Issuer) Revoke(ctx context.Context, w http.ResponseWriter, accessToken string) {
	if accessToken != "" {
		if err := i.provider.Revoke(ctx, accessToken); err != nil {
			i.log.Warn("failed to revoke session with identity provider", zap.Error(err))
		}
	}
	i.Clear(w)
}

// Clear expires both cookies.
func (i *Issuer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, i.cookie(AccessCookie, "", "/", -1))
	http.SetCookie(w, i.cookie(RefreshCookie, "", i.refreshPath(), -1))
}

func (i *Issuer) write(w http.ResponseWriter, s *identity.Session) *Pair {
	accessTTL := i.config.AccessTokenDuration
	if s.Remember && i.config.RememberAccessCookieTTL > 0 {
		accessTTL = i.config.RememberAccessCookieTTL
	}
	refreshTTL := time.Until(s.RefreshExpiresAt)

	http.SetCookie(w, i.cookie(AccessCookie, s.AccessToken, "/", int(accessTTL.Seconds())))
	http.SetCookie(w, i.cookie(RefreshCookie, s.RefreshToken, i.refreshPath(), int(refreshTTL.Seconds())))

	return &Pair{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Remember:         s.Remember,
	}
}

func (i *Issuer) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   i.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (i *Issuer) refreshPath() string {
	if i.config.RefreshCookiePath == "" {
		return "/auth"
	}
	return i.config.RefreshCookiePath
}
