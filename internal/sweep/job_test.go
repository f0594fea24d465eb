package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/tokens"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error { return p.err }

type fakePurger struct {
	calls  atomic.Int32
	cutoff atomic.Value
}

func (p *fakePurger) PurgeSessions(_ context.Context, revokedBefore time.Time) (int64, error) {
	p.calls.Add(1)
	p.cutoff.Store(revokedBefore)
	return 3, nil
}

type fixture struct {
	job      *Job
	pinger   *fakePinger
	purger   *fakePurger
	tokens   *tokens.Manager
	attempts lockout.Repository
}

func newFixture(t *testing.T, cfg config.SweepConfig) *fixture {
	log := zaptest.NewLogger(t)
	f := &fixture{
		pinger:   &fakePinger{},
		purger:   &fakePurger{},
		tokens:   tokens.NewManager(tokens.NewMemoryRepository(), log),
		attempts: lockout.NewMemoryRepository(),
	}
	f.job = NewJob(&cfg, f.pinger, f.tokens, f.attempts, f.purger, log)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	deliver := func(string) error { return nil }

	_, err := f.tokens.Issue(ctx, tokens.PurposeSignIn, "old@example.com", -time.Minute, deliver)
	require.NoError(t, err)
	_, err = f.tokens.Issue(ctx, tokens.PurposeSignIn, "fresh@example.com", time.Hour, deliver)
	require.NoError(t, err)

	require.NoError(t, f.attempts.Create(ctx, &lockout.LoginAttempt{
		Email:     "old@example.com",
		IPAddress: "1.2.3.4",
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, f.attempts.Create(ctx, &lockout.LoginAttempt{
		Email:     "fresh@example.com",
		IPAddress: "1.2.3.4",
		CreatedAt: time.Now(),
	}))
}

func TestJob_RunOnce(t *testing.T) {
	f := newFixture(t, config.SweepConfig{})
	f.seed(t)

	res, err := f.job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Tokens: 1, Attempts: 1, Sessions: 3}, res)

	cutoff, ok := f.purger.cutoff.Load().(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)

	res, err = f.job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sessions: 3}, res)
}

func TestJob_RunOnceSkipsWhenDatastoreDown(t *testing.T) {
	f := newFixture(t, config.SweepConfig{})
	f.seed(t)
	f.pinger.err = errors.New("connection refused")

	_, err := f.job.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrDatastoreUnavailable)
	assert.Zero(t, f.purger.calls.Load())

	f.pinger.err = nil
	res, err := f.job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Tokens)
}

func TestJob_StartStop(t *testing.T) {
	f := newFixture(t, config.SweepConfig{
		Enabled:      true,
		InitialDelay: time.Millisecond,
		Interval:     10 * time.Millisecond,
	})

	require.NoError(t, f.job.Start(context.Background()))
	require.NoError(t, f.job.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool {
		return f.purger.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.job.Stop(context.Background()))
	require.NoError(t, f.job.Stop(context.Background()))

	calls := f.purger.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.purger.calls.Load())
}

func TestJob_Disabled(t *testing.T) {
	f := newFixture(t, config.SweepConfig{Enabled: false, InitialDelay: time.Millisecond})

	require.NoError(t, f.job.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.purger.calls.Load())
	require.NoError(t, f.job.Stop(context.Background()))
}
