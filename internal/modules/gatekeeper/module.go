package gatekeeper

import (
	"go.uber.org/fx"

	"signal_bot/internal/killswitch"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/gatekeeper/service"
	okx "signal_bot/internal/modules/okx_client/service"
	"signal_bot/internal/store"
)

func Module() fx.Option {
	return fx.Module("gatekeeper",
		fx.Provide(
			func(cfg *config.Config) *killswitch.Switch {
				return killswitch.New(cfg.TradingEnabled)
			},
			func(
				cfg *config.Config,
				ks *killswitch.Switch,
				watch *store.Watchlist,
				intents *store.Intents,
				throttle *store.Throttle,
				client *okx.Client,
			) *service.Gatekeeper {
				return service.NewGatekeeper(cfg, ks, watch, intents, throttle, client)
			},
		),
	)
}
