package market_data

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/fx"

	"signal_bot/internal/modules/market_data/service"
)

func Module() fx.Option {
	return fx.Module("market_data",
		fx.Provide(
			func() *binance.Client {
				// публичные эндпоинты свечей, ключи не нужны
				return binance.NewClient("", "")
			},
			service.NewStream,
			service.NewProvider,
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Stream, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go s.Run(ctx)
					return nil
				},
			})
		}),
	)
}
