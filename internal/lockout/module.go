package lockout

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewRepository,
			fx.Annotate(
				func(cfg *config.AppConfig, repo Repository, log *zap.Logger) *Tracker {
					return NewTracker(&cfg.Lockout, repo, log)
				},
			),
		),
	)
}
