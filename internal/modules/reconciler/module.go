package reconciler

import (
	"context"

	"go.uber.org/fx"

	bracket "signal_bot/internal/modules/bracket/service"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/modules/reconciler/service"
	"signal_bot/internal/store"
)

func Module() fx.Option {
	return fx.Module("reconciler",
		fx.Provide(
			func(
				cfg *config.Config,
				client *okx.Client,
				orders *store.Orders,
				intents *store.Intents,
				manager *bracket.Manager,
			) *service.Reconciler {
				return service.NewReconciler(cfg, client, orders, intents, manager)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *service.Reconciler, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go r.Run(ctx)
					return nil
				},
			})
		}),
	)
}
