package notify

import (
	"context"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/store"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config, journal *store.Notifications) (*Telegram, error) {
				return NewTelegram(
					cfg.Telegram.Token,
					cfg.Telegram.ChatID,
					cfg.Service.Origin,
					cfg.Service.ProductionOrigin,
					journal,
				)
			},
			func(t *Telegram) Notifier { return t },
		),
		fx.Invoke(func(lc fx.Lifecycle, t *Telegram, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go t.Resend(ctx)
					return nil
				},
			})
		}),
	)
}
