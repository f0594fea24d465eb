package oauthstate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, lifecycle fx.Lifecycle, log *zap.Logger) (StateStore, error) {
					return newStore(cfg, lifecycle, log)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, store StateStore, log *zap.Logger) *Manager {
					return NewManager(&cfg.OAuthState, store, log)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func newStore(cfg *config.AppConfig, lifecycle fx.Lifecycle, log *zap.Logger) (StateStore, error) {
	switch cfg.OAuthState.Backend {
	case "", "memory":
		log.Info("using in-process oauth state store")
		return NewMemoryStore(cfg.OAuthState.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis: %w", err)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		log.Info("using redis oauth state store", zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(client, cfg.OAuthState.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown oauth state backend %q", cfg.OAuthState.Backend)
	}
}

func registerHooks(lifecycle fx.Lifecycle, manager *Manager) {
	lifecycle.Append(fx.Hook{
		OnStart: manager.Start,
		OnStop:  manager.Stop,
	})
}
