package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/migration"
	"github.com/elskow/memorial-auth/internal/server"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/down-to/status/version/reset)")
	target := flag.String("version", "", "target version for down-to")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", server.EnvDevelopment)
	}

	logger, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := server.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	migrator, err := migration.NewMigrator(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer migrator.Close()

	ctx := context.Background()
	logger.Info("running migration command",
		zap.String("command", *command),
		zap.String("dir", migrator.Dir()))

	switch *command {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Successfully ran migrations")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal("Failed to rollback migrations", zap.Error(err))
		}
		logger.Info("Successfully rolled back migrations")

	case "down-to":
		version, err := strconv.ParseInt(*target, 10, 64)
		if err != nil {
			logger.Fatal("down-to needs -version", zap.String("version", *target), zap.Error(err))
		}
		if err := migrator.DownTo(ctx, version); err != nil {
			logger.Fatal("Failed to roll back", zap.Error(err))
		}
		logger.Info("Rolled back", zap.Int64("version", version))

	case "status":
		if err := migrator.Status(ctx); err != nil {
			logger.Fatal("Failed to get migration status", zap.Error(err))
		}

	case "version":
		version, err := migrator.CurrentVersion(ctx)
		if err != nil {
			logger.Fatal("Failed to get migration version", zap.Error(err))
		}
		logger.Info("Current migration version", zap.Int64("version", version))

	case "reset":
		if err := migrator.Reset(ctx); err != nil {
			logger.Fatal("Failed to reset migrations", zap.Error(err))
		}
		logger.Info("Successfully reset migrations")

	default:
		logger.Fatal("Unknown command", zap.String("command", *command))
	}
}
