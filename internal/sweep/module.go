package sweep

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/database"
	"github.com/elskow/memorial-auth/internal/identity/local"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/tokens"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(
					cfg *config.AppConfig,
					db *database.Manager,
					tokenManager *tokens.Manager,
					attempts lockout.Repository,
					provider *local.Provider,
					log *zap.Logger,
				) *Job {
					return NewJob(&cfg.Sweep, db, tokenManager, attempts, provider, log.Named("sweep"))
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, job *Job) {
	lifecycle.Append(fx.Hook{
		OnStart: job.Start,
		OnStop:  job.Stop,
	})
}
