package local

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/identity"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, db *gorm.DB, log *zap.Logger) *Provider {
					return NewProvider(&cfg.Auth, db, log.Named("identity"))
				},
			),
			func(p *Provider) identity.Provider { return p },
		),
	)
}
