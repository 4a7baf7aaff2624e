package bracket

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/modules/bracket/service"
	"signal_bot/internal/modules/config"
	market "signal_bot/internal/modules/market_data/service"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/store"
)

func Module() fx.Option {
	return fx.Module("bracket",
		fx.Provide(
			func(
				cfg *config.Config,
				client *okx.Client,
				watch *store.Watchlist,
				provider *market.Provider,
				orders *store.Orders,
				n notify.Notifier,
			) *service.Manager {
				return service.NewManager(cfg, client, watch, provider, orders, n)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Manager, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go m.Run(ctx)
					return nil
				},
			})
		}),
	)
}
