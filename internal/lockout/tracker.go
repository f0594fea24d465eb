package lockout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

// Tracker derives lockout state from the login attempt log. Failures are
// counted per email and, with a higher threshold, per network origin over a
// sliding window.
type Tracker struct {
	repo            Repository
	log             *zap.Logger
	threshold       int
	originThreshold int
	window          time.Duration
	lockoutDuration time.Duration
	now             func() time.Time
}

func NewTracker(cfg *config.LockoutConfig, repo Repository, log *zap.Logger) *Tracker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	multiplier := cfg.OriginMultiplier
	if multiplier <= 0 {
		multiplier = 3
	}
	window := cfg.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &Tracker{
		repo:            repo,
		log:             log,
		threshold:       threshold,
		originThreshold: threshold * multiplier,
		window:          window,
		lockoutDuration: duration,
		now:             time.Now,
	}
}

// Attempt describes one authentication attempt to be recorded.
type Attempt struct {
	Email     string
	Origin    string
	Success   bool
	Reason    string
	UserAgent string
}

func (t *Tracker) Record(ctx context.Context, a Attempt) error {
	attempt := &LoginAttempt{
		Email:     normalize(a.Email),
		IPAddress: a.Origin,
		Success:   a.Success,
		UserAgent: a.UserAgent,
		CreatedAt: t.now().UTC(),
	}
	if !a.Success && a.Reason != "" {
		reason := a.Reason
		attempt.FailureReason = &reason
	}
	if err := t.repo.Create(ctx, attempt); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// Status reports whether email or origin is currently locked out. Either
// counter tripping locks the attempt.
func (t *Tracker) Status(ctx context.Context, email, origin string) (Status, error) {
	now := t.now().UTC()
	since := now.Add(-t.window)

	byEmail, err := t.repo.FailuresByEmail(ctx, normalize(email), since)
	if err != nil {
		return Status{}, fmt.Errorf("count failures by email: %w", err)
	}

	status := Status{AttemptsRemaining: max(t.threshold-len(byEmail), 0)}

	if ends, locked := t.lockedUntil(byEmail, t.threshold, now); locked {
		status.Locked = true
		status.LockoutEndsAt = ends
	}

	if origin != "" {
		byOrigin, err := t.repo.FailuresByOrigin(ctx, origin, since)
		if err != nil {
			return Status{}, fmt.Errorf("count failures by origin: %w", err)
		}
		if ends, locked := t.lockedUntil(byOrigin, t.originThreshold, now); locked {
			if !status.Locked || ends.After(status.LockoutEndsAt) {
				status.LockoutEndsAt = ends
			}
			status.Locked = true
			status.AttemptsRemaining = 0
		}
	}

	if status.Locked {
		status.AttemptsRemaining = 0
	}
	return status, nil
}

func (t *Tracker) lockedUntil(failures []time.Time, threshold int, now time.Time) (time.Time, bool) {
	if len(failures) < threshold {
		return time.Time{}, false
	}
	ends := failures[0].Add(t.lockoutDuration)
	if !ends.After(now) {
		return time.Time{}, false
	}
	return ends, true
}

// Clear forgets failed attempts for email. It is reserved for flows that
// prove ownership of the account, such as a completed password reset.
func (t *Tracker) Clear(ctx context.Context, email string) error {
	if err := t.repo.DeleteFailures(ctx, normalize(email)); err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}
	t.log.Info("cleared failed login attempts", zap.String("email", normalize(email)))
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
