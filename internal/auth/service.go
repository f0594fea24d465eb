package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/breach"
	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/federation"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/mailer"
	"github.com/elskow/memorial-auth/internal/oauthstate"
	"github.com/elskow/memorial-auth/internal/session"
	"github.com/elskow/memorial-auth/internal/tokens"
	"github.com/elskow/memorial-auth/internal/users"
)

type Params struct {
	fx.In

	Config     *config.AppConfig
	Log        *zap.Logger
	Tokens     *tokens.Manager
	Lockout    *lockout.Tracker
	Breach     *breach.Screener
	States     *oauthstate.Manager
	Bridge     *identity.Bridge
	Provider   identity.Provider
	Sessions   *session.Issuer
	Federation *federation.Registry
	Users      users.Repository
	Resources  ResourceRepository
	Sender     mailer.Sender
	Composer   *mailer.Composer
}

// Service composes tokens, lockout, breach screening, federation and the
// identity provider into the sign-in flows.
type Service struct {
	config     *config.AuthConfig
	log        *zap.Logger
	tokens     *tokens.Manager
	lockout    *lockout.Tracker
	breach     *breach.Screener
	states     *oauthstate.Manager
	bridge     *identity.Bridge
	provider   identity.Provider
	sessions   *session.Issuer
	federation *federation.Registry
	users      users.Repository
	resources  ResourceRepository
	sender     mailer.Sender
	composer   *mailer.Composer
	now        func() time.Time
}

func NewService(p Params) *Service {
	return &Service{
		config:     &p.Config.Auth,
		log:        p.Log,
		tokens:     p.Tokens,
		lockout:    p.Lockout,
		breach:     p.Breach,
		states:     p.States,
		bridge:     p.Bridge,
		provider:   p.Provider,
		sessions:   p.Sessions,
		federation: p.Federation,
		users:      p.Users,
		resources:  p.Resources,
		sender:     p.Sender,
		composer:   p.Composer,
		now:        time.Now,
	}
}

// RequestMagicLink issues a sign-in link for email and mails it. The returned
// duration is the link lifetime.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (time.Duration, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return 0, err
	}

	ttl := s.config.MagicLinkTTL
	_, err = s.tokens.Issue(ctx, tokens.PurposeSignIn, email, ttl, func(token string) error {
		return s.sender.Send(ctx, s.composer.MagicLink(email, token, ttl))
	})
	if err != nil {
		return ttl, err
	}

	s.log.Info("magic link sent", zap.String("email", email))
	return ttl, nil
}

// VerifyMagicLink redeems a sign-in link and starts a session on w.
func (s *Service) VerifyMagicLink(ctx context.Context, w http.ResponseWriter, token string) (*users.User, error) {
	if _, err := s.tokens.Peek(ctx, tokens.PurposeSignIn, token); err != nil {
		return nil, err
	}
	record, err := s.tokens.Consume(ctx, tokens.PurposeSignIn, token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	user, err := s.bridge.Reconcile(ctx, record.Email, "")
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Issue(ctx, w, user.ID, false); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.log.Info("signed in with magic link", zap.String("user_id", user.ID))
	return user, nil
}

type SignupRequest struct {
	Email    string
	Password string
	Name     string
	Remember bool
}

func (s *Service) Signup(ctx context.Context, w http.ResponseWriter, req SignupRequest) (*users.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(ctx, req.Password); err != nil {
		return nil, err
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	if _, err := s.provider.CreateAccount(ctx, email, req.Password); err != nil {
		if errors.Is(err, identity.ErrAccountExists) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("create provider account: %w", err)
	}

	user, err := s.bridge.Reconcile(ctx, email, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Issue(ctx, w, user.ID, req.Remember); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID), zap.String("email", email))
	return user, nil
}

type LoginRequest struct {
	Email     string
	Password  string
	Remember  bool
	Origin    string
	UserAgent string
}

// Login authenticates a password. Lockout is checked before the provider is
// asked, so a correct password does not get through while locked.
func (s *Service) Login(ctx context.Context, w http.ResponseWriter, req LoginRequest) (*users.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	status, err := s.lockout.Status(ctx, email, req.Origin)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		s.record(ctx, req, false, lockout.ReasonLocked)
		s.log.Warn("login rejected while locked",
			zap.String("email", email),
			zap.Time("lockout_ends_at", status.LockoutEndsAt))
		return nil, &LockedError{Until: status.LockoutEndsAt}
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	account, err := s.provider.VerifyPassword(ctx, email, req.Password)
	switch {
	case errors.Is(err, identity.ErrAccountNotFound):
		s.record(ctx, req, false, lockout.ReasonUnknownAccount)
		return nil, ErrInvalidCredentials
	case errors.Is(err, identity.ErrInvalidCredentials):
		s.record(ctx, req, false, lockout.ReasonInvalidCredentials)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("verify password: %w", err)
	}
	s.record(ctx, req, true, "")

	user, err := s.bridge.Reconcile(ctx, account.Email, "")
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Issue(ctx, w, user.ID, req.Remember); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID), zap.Bool("remember", req.Remember))
	return user, nil
}

func (s *Service) record(ctx context.Context, req LoginRequest, success bool, reason string) {
	err := s.lockout.Record(ctx, lockout.Attempt{
		Email:     req.Email,
		Origin:    req.Origin,
		Success:   success,
		Reason:    reason,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		s.log.Error("failed to record login attempt", zap.Error(err))
	}
}

// StartFederated returns the provider authorization URL carrying a fresh
// CSRF state bound to origin.
func (s *Service) StartFederated(ctx context.Context, providerName, origin string) (string, error) {
	p, err := s.federation.Get(providerName)
	if err != nil {
		return "", err
	}
	state, err := s.states.Generate(ctx, origin)
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return p.AuthCodeURL(state), nil
}

type FederatedCallback struct {
	Provider string
	Code     string
	State    string
	Origin   string
}

func (s *Service) CompleteFederated(ctx context.Context, w http.ResponseWriter, cb FederatedCallback) (*users.User, error) {
	p, err := s.federation.Get(cb.Provider)
	if err != nil {
		return nil, err
	}
	if !s.states.Validate(ctx, cb.State, cb.Origin) {
		return nil, ErrInvalidState
	}

	external, err := p.Exchange(ctx, cb.Code)
	if err != nil {
		s.log.Warn("federated code exchange failed", zap.String("provider", p.Name()), zap.Error(err))
		return nil, err
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	user, err := s.bridge.Reconcile(ctx, external.Email, external.Name)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Issue(ctx, w, user.ID, false); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.log.Info("signed in with federated provider",
		zap.String("provider", p.Name()),
		zap.String("user_id", user.ID))
	return user, nil
}

// AbandonFederated burns state after the provider reported an error, so it
// cannot be replayed.
func (s *Service) AbandonFederated(ctx context.Context, state, origin string) {
	if state != "" {
		s.states.Validate(ctx, state, origin)
	}
}

// RequestPasswordReset always issues and mails a reset link, even for unknown
// emails, and never returns before the configured minimum response time.
// Failures are logged only so every caller observes the same outcome.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	started := s.now()
	defer s.pad(ctx, started)

	email, err := normalizeEmail(email)
	if err != nil {
		return nil
	}

	ttl := s.config.ResetTokenTTL
	_, err = s.tokens.Issue(ctx, tokens.PurposePasswordReset, email, ttl, func(token string) error {
		return s.sender.Send(ctx, s.composer.PasswordReset(email, token, ttl))
	})
	if err != nil {
		s.log.Error("failed to issue password reset", zap.String("email", email), zap.Error(err))
	}
	return nil
}

func (s *Service) pad(ctx context.Context, started time.Time) {
	remaining := s.config.ResetMinResponseTime - s.now().Sub(started)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// PreviewPasswordReset reports whether a reset link is still redeemable
// without using it up.
func (s *Service) PreviewPasswordReset(ctx context.Context, token string) error {
	if _, err := s.tokens.Peek(ctx, tokens.PurposePasswordReset, token); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}

func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	record, err := s.tokens.Peek(ctx, tokens.PurposePasswordReset, token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := s.checkPassword(ctx, newPassword); err != nil {
		return err
	}

	pctx, cancel := s.providerContext(ctx)
	defer cancel()

	account, err := s.provider.LookupAccount(pctx, record.Email)
	if errors.Is(err, identity.ErrAccountNotFound) {
		if _, err := s.tokens.Consume(ctx, tokens.PurposePasswordReset, token); err != nil {
			s.log.Warn("failed to burn reset token for unknown account", zap.Error(err))
		}
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("lookup provider account: %w", err)
	}
	if err := s.provider.UpdatePassword(pctx, account.ID, newPassword); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.tokens.Consume(ctx, tokens.PurposePasswordReset, token); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := s.lockout.Clear(ctx, record.Email); err != nil {
		s.log.Error("failed to clear lockout after reset", zap.String("email", record.Email), zap.Error(err))
	}

	s.log.Info("password reset completed", zap.String("email", record.Email))
	return nil
}

// Refresh rotates the session behind refreshToken. Cookies are cleared when
// the token is rejected.
func (s *Service) Refresh(ctx context.Context, w http.ResponseWriter, refreshToken string) (*session.Pair, error) {
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	pair, err := s.sessions.Refresh(ctx, w, refreshToken)
	if err != nil {
		s.sessions.Clear(w)
		if errors.Is(err, identity.ErrInvalidRefreshToken) {
			return nil, err
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return pair, nil
}

func (s *Service) Logout(ctx context.Context, w http.ResponseWriter, accessToken string) {
	ctx, cancel := s.providerContext(ctx)
	defer cancel()
	s.sessions.Revoke(ctx, w, accessToken)
}

// Authenticate resolves the user behind an access token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*users.User, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	claims, err := s.provider.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.log.Warn("valid token for unknown local user", zap.String("subject", claims.Subject))
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Authorize checks that user owns resourceID or holds an accepted invitation
// for it at minRole or above.
func (s *Service) Authorize(ctx context.Context, user *users.User, resourceID string, minRole tokens.Role) error {
	owner, err := s.resources.OwnerOf(ctx, resourceID)
	if err != nil {
		return err
	}
	if owner == user.ID {
		return nil
	}
	if minRole == tokens.RoleOwner {
		return ErrForbidden
	}

	ok, err := s.tokens.HasAccess(ctx, resourceID, user.Email, minRole)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

type InviteRequest struct {
	ResourceID string
	Email      string
	Role       tokens.Role
}

// Invite mails an invitation on behalf of inviter. Callers must have
// authorized inviter as the resource owner.
func (s *Service) Invite(ctx context.Context, inviter *users.User, req InviteRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if email == inviter.Email {
		return ErrInvalidInvitation
	}

	ttl := s.config.InvitationTTL
	_, err = s.tokens.IssueInvitation(ctx, tokens.InvitationRequest{
		ResourceID:   req.ResourceID,
		InviterEmail: inviter.Email,
		Email:        email,
		Role:         req.Role,
	}, ttl, func(token string) error {
		return s.sender.Send(ctx, s.composer.Invitation(email, inviter.Email, string(req.Role), token, ttl))
	})
	if err != nil {
		return err
	}

	s.log.Info("invitation sent",
		zap.String("resource_id", req.ResourceID),
		zap.String("email", email),
		zap.String("role", string(req.Role)))
	return nil
}

// AcceptInvitation redeems an invitation. It grants access but does not sign
// anyone in.
func (s *Service) AcceptInvitation(ctx context.Context, token string) (*tokens.Invitation, error) {
	if _, err := s.tokens.PeekInvitation(ctx, token); err != nil {
		return nil, err
	}
	return s.tokens.ConsumeInvitation(ctx, token)
}

func (s *Service) checkPassword(ctx context.Context, password string) error {
	if len(password) < s.config.MinPasswordLength {
		return ErrWeakPassword
	}
	if s.breach.IsBreached(ctx, password) {
		return ErrBreachedPassword
	}
	return nil
}

func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.ProviderRequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.ProviderRequestTimeout)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
