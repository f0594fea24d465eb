package oauthstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/securetoken"
)

type Manager struct {
	store         StateStore
	log           *zap.Logger
	ttl           time.Duration
	sweepInterval time.Duration
	strictOrigin  bool
	now           func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(cfg *config.OAuthStateConfig, store StateStore, log *zap.Logger) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Manager{
		store:         store,
		log:           log,
		ttl:           ttl,
		sweepInterval: interval,
		strictOrigin:  cfg.StrictOrigin,
		now:           time.Now,
	}
}

// Generate issues a fresh state value bound to origin.
func (m *Manager) Generate(ctx context.Context, origin string) (string, error) {
	state, err := securetoken.Generate()
	if err != nil {
		return "", err
	}
	entry := Entry{CreatedAt: m.now().UTC(), Origin: origin}
	if err := m.store.Set(ctx, state, entry, m.ttl); err != nil {
		return "", err
	}
	return state, nil
}

// Validate checks and burns state. The entry is removed whether or not it
// turns out to be valid, and only the caller whose delete removed it can
// succeed.
func (m *Manager) Validate(ctx context.Context, state, origin string) bool {
	if state == "" {
		return false
	}

	entry, found, err := m.store.Get(ctx, state)
	if err != nil {
		m.log.Error("failed to load oauth state", zap.Error(err))
		return false
	}
	if !found {
		return false
	}

	removed, err := m.store.Delete(ctx, state)
	if err != nil {
		m.log.Error("failed to delete oauth state", zap.Error(err))
		return false
	}
	if !removed {
		return false
	}

	if m.now().Sub(entry.CreatedAt) > m.ttl {
		return false
	}

	if entry.Origin != origin {
		m.log.Warn("oauth state origin mismatch",
			zap.String("issued_to", entry.Origin),
			zap.String("presented_by", origin),
			zap.Bool("rejected", m.strictOrigin))
		if m.strictOrigin {
			return false
		}
	}
	return true
}

// Sweep drops expired entries once.
func (m *Manager) Sweep(ctx context.Context) {
	removed, err := m.store.Sweep(ctx)
	if err != nil {
		m.log.Warn("oauth state sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		m.log.Debug("swept expired oauth states", zap.Int("removed", removed))
	}
}

func (m *Manager) Start(context.Context) error {
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
	return nil
}

func (m *Manager) Stop(context.Context) error {
	if m.stop != nil {
		close(m.stop)
		m.wg.Wait()
		m.stop = nil
	}
	return nil
}
