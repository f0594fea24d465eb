// Package sweep periodically deletes expired and used single-use tokens,
// stale login attempts and dead provider sessions.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/tokens"
)

var ErrDatastoreUnavailable = errors.New("datastore unavailable")

const passTimeout = 5 * time.Minute

type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionPurger removes provider sessions revoked before the cutoff or past
// their refresh window.
type SessionPurger interface {
	PurgeSessions(ctx context.Context, revokedBefore time.Time) (int64, error)
}

// Result counts the rows removed by one pass.
type Result struct {
	Tokens      int64
	Invitations int64
	Attempts    int64
	Sessions    int64
}

type Job struct {
	config   config.SweepConfig
	db       Pinger
	tokens   *tokens.Manager
	attempts lockout.Repository
	sessions SessionPurger
	log      *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewJob(
	cfg *config.SweepConfig,
	db Pinger,
	tokenManager *tokens.Manager,
	attempts lockout.Repository,
	sessions SessionPurger,
	log *zap.Logger,
) *Job {
	c := *cfg
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.UsedTokenRetention <= 0 {
		c.UsedTokenRetention = 24 * time.Hour
	}
	if c.AttemptRetention <= 0 {
		c.AttemptRetention = 30 * 24 * time.Hour
	}
	if c.RevokedSessionRetention <= 0 {
		c.RevokedSessionRetention = 24 * time.Hour
	}
	return &Job{
		config:   c,
		db:       db,
		tokens:   tokenManager,
		attempts: attempts,
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce performs a single pass. It skips the pass entirely when the
// datastore does not answer a ping. A failing step does not stop the others.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	if err := j.db.Ping(ctx); err != nil {
		j.log.Warn("datastore unreachable, skipping sweep", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrDatastoreUnavailable, err)
	}

	now := j.now().UTC()
	var errs []error

	tokensRemoved, invitationsRemoved, err := j.tokens.DeleteStale(ctx, j.config.UsedTokenRetention)
	if err != nil {
		errs = append(errs, err)
	}
	res.Tokens, res.Invitations = tokensRemoved, invitationsRemoved

	res.Attempts, err = j.attempts.DeleteOlderThan(ctx, now.Add(-j.config.AttemptRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete login attempts: %w", err))
	}

	if j.sessions != nil {
		res.Sessions, err = j.sessions.PurgeSessions(ctx, now.Add(-j.config.RevokedSessionRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge sessions: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		j.log.Error("sweep finished with errors", zap.Error(err))
		return res, err
	}

	j.log.Info("sweep finished",
		zap.Int64("tokens", res.Tokens),
		zap.Int64("invitations", res.Invitations),
		zap.Int64("attempts", res.Attempts),
		zap.Int64("sessions", res.Sessions))
	return res, nil
}

// Start runs the first pass after the initial delay and then on every
// interval until Stop.
func (j *Job) Start(context.Context) error {
	if !j.config.Enabled {
		j.log.Info("expiry sweep disabled")
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	j.stop = stop

	j.wg.Add(1)
	go j.loop(stop)

	j.log.Info("expiry sweep scheduled",
		zap.Duration("initial_delay", j.config.InitialDelay),
		zap.Duration("interval", j.config.Interval))
	return nil
}

func (j *Job) loop(stop <-chan struct{}) {
	defer j.wg.Done()

	timer := time.NewTimer(j.config.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
			_, _ = j.RunOnce(ctx)
			cancel()
			timer.Reset(j.config.Interval)
		case <-stop:
			return
		}
	}
}

// Stop halts the schedule and waits for a pass in progress, or until ctx is
// done.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	stop := j.stop
	j.stop = nil
	j.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
