package breach

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig, log *zap.Logger) *Screener {
				return NewScreener(&cfg.Breach, log.Named("breach"))
			},
		),
	)
}
