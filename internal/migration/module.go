package migration

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

// Module provides migration-related dependencies
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig) (*Migrator, error) {
					return NewMigrator(&config.Database)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	migrator *Migrator,
	logger *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Database.AutoMigrate {
				logger.Info("automatic migrations disabled")
				return nil
			}
			return upgrade(ctx, migrator, logger)
		},
		OnStop: func(ctx context.Context) error {
			return migrator.Close()
		},
	})
}

// upgrade applies pending migrations. A database ahead of the binary is left
// alone: rolling back on start would drop data written by a newer release.
func upgrade(ctx context.Context, migrator *Migrator, logger *zap.Logger) error {
	currentVersion, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	latestVersion, err := migrator.LatestVersion()
	if err != nil {
		return fmt.Errorf("failed to get latest migration version: %w", err)
	}

	logger.Info("Database migration status",
		zap.Int64("current_version", currentVersion),
		zap.Int64("latest_version", latestVersion))

	switch {
	case currentVersion > latestVersion:
		logger.Warn("database schema is newer than this build",
			zap.Int64("current_version", currentVersion),
			zap.Int64("latest_version", latestVersion))
	case currentVersion < latestVersion:
		logger.Info("Upgrading database schema",
			zap.Int64("from_version", currentVersion),
			zap.Int64("to_version", latestVersion))
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("failed to upgrade database: %w", err)
		}
	}
	return nil
}
