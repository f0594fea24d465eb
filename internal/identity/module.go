package identity

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/users"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig, provider Provider, repo users.Repository, log *zap.Logger) *Bridge {
				return NewBridge(&cfg.Auth, provider, repo, log)
			},
		),
	)
}
