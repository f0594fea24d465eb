package session

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/identity"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig, provider identity.Provider, log *zap.Logger) *Issuer {
				return NewIssuer(&cfg.Auth, provider, log)
			},
		),
	)
}
