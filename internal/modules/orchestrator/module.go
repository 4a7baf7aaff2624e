package orchestrator

import (
	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/modules/orchestrator/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/store"
)

func Module() fx.Option {
	return fx.Module("orchestrator",
		fx.Provide(
			func(
				cfg *config.Config,
				client *okx.Client,
				intents *store.Intents,
				orders *store.Orders,
				throttle *store.Throttle,
				n notify.Notifier,
			) *service.Orchestrator {
				return service.NewOrchestrator(cfg, client, intents, orders, throttle, n)
			},
		),
	)
}
