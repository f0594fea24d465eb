package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/auth"
	"github.com/elskow/memorial-auth/internal/breach"
	"github.com/elskow/memorial-auth/internal/database"
	"github.com/elskow/memorial-auth/internal/federation"
	"github.com/elskow/memorial-auth/internal/identity"
	"github.com/elskow/memorial-auth/internal/identity/local"
	"github.com/elskow/memorial-auth/internal/lockout"
	"github.com/elskow/memorial-auth/internal/mailer"
	"github.com/elskow/memorial-auth/internal/migration"
	"github.com/elskow/memorial-auth/internal/oauthstate"
	"github.com/elskow/memorial-auth/internal/server"
	"github.com/elskow/memorial-auth/internal/session"
	"github.com/elskow/memorial-auth/internal/sweep"
	"github.com/elskow/memorial-auth/internal/tokens"
	"github.com/elskow/memorial-auth/internal/users"
)

// Module combines all application modules. The logger is supplied by the
// caller.
func Module() fx.Option {
	return fx.Options(
		// Configuration
		fx.Provide(server.LoadConfig),

		// Storage, migrated before anything reads from it
		database.Module(),
		migration.Module(),

		// Identity
		users.Module(),
		local.Module(),
		identity.Module(),
		session.Module(),
		federation.Module(),

		// Supporting services
		tokens.Module(),
		lockout.Module(),
		breach.Module(),
		oauthstate.Module(),
		mailer.Module(),

		// Auth Module
		auth.NewModule(),

		// Background cleanup
		sweep.Module(),

		// Server
		fx.Provide(
			server.NewServer,
			func(m *database.Manager) server.HealthChecker { return m },
		),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Stop(ctx)
		},
	})
}
