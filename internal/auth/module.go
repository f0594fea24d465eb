package auth

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewResourceRepository,
			NewService,
			NewAuthMiddleware,
			fx.Annotate(
				func(cfg *config.AppConfig, svc *Service, mw *AuthMiddleware, log *zap.Logger) *Handler {
					return NewHandler(&cfg.Server, svc, mw, log.Named("auth"))
				},
			),
		),
	)
}
