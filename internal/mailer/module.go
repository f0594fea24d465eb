package mailer

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig, log *zap.Logger) Sender {
				if !cfg.Email.Enabled {
					log.Warn("email delivery disabled, messages will only be logged")
					return NewLogSender(log)
				}
				return NewSMTPSender(&cfg.Email, log)
			},
			func(cfg *config.AppConfig) *Composer {
				return NewComposer(&cfg.Server)
			},
		),
	)
}
