package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/users"
)

// ErrReconciliation means the local user could not be aligned with the
// provider account. Callers must not continue to issue a session.
var ErrReconciliation = errors.New("identity reconciliation failed")

// Bridge keeps the local user id equal to the provider account id for the
// same email.
type Bridge struct {
	provider      Provider
	users         users.Repository
	log           *zap.Logger
	defaultTier   string
	trialDuration time.Duration
	now           func() time.Time
}

func NewBridge(cfg *config.AuthConfig, provider Provider, repo users.Repository, log *zap.Logger) *Bridge {
	tier := cfg.DefaultTier
	if tier == "" {
		tier = "free"
	}
	return &Bridge{
		provider:      provider,
		users:         repo,
		log:           log,
		defaultTier:   tier,
		trialDuration: cfg.TrialDuration,
		now:           time.Now,
	}
}

// Reconcile returns the local user for email, creating the provider account
// and the local user as needed and repairing a mismatched id.
func (b *Bridge) Reconcile(ctx context.Context, email, name string) (*users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := b.provider.LookupAccount(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		account, err = b.provider.CreateAccount(ctx, email, "")
		if errors.Is(err, ErrAccountExists) {
			account, err = b.provider.LookupAccount(ctx, email)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve provider account: %w", ErrReconciliation, err)
	}

	user, err := b.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		user, err = b.createUser(ctx, account.ID, email, name)
		if err != nil {
			return nil, fmt.Errorf("%w: create user: %w", ErrReconciliation, err)
		}
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("%w: load user: %w", ErrReconciliation, err)
	}

	if user.ID != account.ID {
		b.log.Warn("local user id differs from provider account, realigning",
			zap.String("email", email),
			zap.String("local_id", user.ID),
			zap.String("provider_id", account.ID))
		if err := b.users.UpdateID(ctx, user.ID, account.ID); err != nil {
			return nil, fmt.Errorf("%w: update user id: %w", ErrReconciliation, err)
		}
		user.ID = account.ID
	}
	return user, nil
}

func (b *Bridge) createUser(ctx context.Context, id, email, name string) (*users.User, error) {
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &users.User{
		ID:    id,
		Email: email,
		Name:  name,
		Tier:  b.defaultTier,
	}
	if b.trialDuration > 0 {
		ends := b.now().UTC().Add(b.trialDuration)
		user.TrialEndsAt = &ends
	}

	err := b.users.Create(ctx, user)
	if errors.Is(err, users.ErrUserExists) {
		// lost a race with a concurrent first sign-in
		existing, getErr := b.users.GetByEmail(ctx, email)
		if getErr != nil {
			return nil, getErr
		}
		if existing.ID != id {
			return nil, fmt.Errorf("concurrent user %s has id %s", email, existing.ID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	b.log.Info("created local user", zap.String("email", email), zap.String("id", id))
	return user, nil
}
