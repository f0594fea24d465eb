// Package identitytest provides an in-memory identity.Provider for tests.
package identitytest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elskow/memorial-auth/internal/identity"
)

type account struct {
	identity.Account
	password string
}

type refreshSession struct {
	accountID string
	remember  bool
	revoked   bool
}

type accessSession struct {
	claims  identity.Claims
	revoked bool
}

// Provider is a thread-safe in-memory identity provider. Err fields force the
// matching method to fail.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]*account
	refresh  map[string]*refreshSession
	access   map[string]*accessSession

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	LookupErr error
	CreateErr error
	IssueErr  error
	RevokeErr error

	Revoked []string
}

func New() *Provider {
	return &Provider{
		accounts:   make(map[string]*account),
		refresh:    make(map[string]*refreshSession),
		access:     make(map[string]*accessSession),
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// AddAccount seeds an account with a fixed id.
func (p *Provider) AddAccount(id, email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[strings.ToLower(email)] = &account{
		Account:  identity.Account{ID: id, Email: strings.ToLower(email), CreatedAt: time.Now()},
		password: password,
	}
}

// Password returns the current password stored for email.
func (p *Provider) Password(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[strings.ToLower(email)]; ok {
		return a.password
	}
	return ""
}

func (p *Provider) CreateAccount(_ context.Context, email, password string) (*identity.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	email = strings.ToLower(email)
	if _, exists := p.accounts[email]; exists {
		return nil, identity.ErrAccountExists
	}
	a := &account{
		Account:  identity.Account{ID: uuid.NewString(), Email: email, CreatedAt: time.Now()},
		password: password,
	}
	p.accounts[email] = a
	out := a.Account
	return &out, nil
}

func (p *Provider) LookupAccount(_ context.Context, email string) (*identity.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.LookupErr != nil {
		return nil, p.LookupErr
	}
	a, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	out := a.Account
	return &out, nil
}

func (p *Provider) VerifyPassword(_ context.Context, email, password string) (*identity.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	if a.password == "" || a.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	out := a.Account
	return &out, nil
}

func (p *Provider) UpdatePassword(_ context.Context, accountID, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.accounts {
		if a.ID == accountID {
			a.password = password
			return nil
		}
	}
	return identity.ErrAccountNotFound
}

func (p *Provider) IssueSession(_ context.Context, accountID string, opts identity.SessionOptions) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IssueErr != nil {
		return nil, p.IssueErr
	}
	for _, a := range p.accounts {
		if a.ID == accountID {
			return p.mint(a.Account, opts.Remember), nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (p *Provider) RefreshSession(_ context.Context, refreshToken string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rs, ok := p.refresh[refreshToken]
	if !ok || rs.revoked {
		return nil, identity.ErrInvalidRefreshToken
	}
	rs.revoked = true
	for _, a := range p.accounts {
		if a.ID == rs.accountID {
			return p.mint(a.Account, rs.remember), nil
		}
	}
	return nil, identity.ErrInvalidRefreshToken
}

func (p *Provider) Revoke(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.RevokeErr != nil {
		return p.RevokeErr
	}
	if s, ok := p.access[accessToken]; ok {
		s.revoked = true
	}
	p.Revoked = append(p.Revoked, accessToken)
	return nil
}

func (p *Provider) ValidateAccessToken(_ context.Context, accessToken string) (*identity.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.access[accessToken]
	if !ok || s.revoked || time.Now().After(s.claims.ExpiresAt) {
		return nil, identity.ErrInvalidAccessToken
	}
	claims := s.claims
	return &claims, nil
}

func (p *Provider) mint(a identity.Account, remember bool) *identity.Session {
	now := time.Now()
	access := "access-" + uuid.NewString()
	refresh := "refresh-" + uuid.NewString()
	sessionID := uuid.NewString()

	p.access[access] = &accessSession{claims: identity.Claims{
		Subject:   a.ID,
		Email:     a.Email,
		SessionID: sessionID,
		ExpiresAt: now.Add(p.AccessTTL),
	}}
	p.refresh[refresh] = &refreshSession{accountID: a.ID, remember: remember}

	return &identity.Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(p.AccessTTL),
		RefreshExpiresAt: now.Add(p.RefreshTTL),
		Remember:         remember,
	}
}

var _ identity.Provider = (*Provider)(nil)
