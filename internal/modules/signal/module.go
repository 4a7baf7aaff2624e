package signal

import (
	"go.uber.org/fx"

	"signal_bot/internal/modules/signal/service"
)

func Module() fx.Option {
	return fx.Module("signal",
		fx.Provide(
			service.NewRuleSet,
			service.NewGenerator,
		),
	)
}
