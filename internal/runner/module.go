package runner

import (
	"context"

	"go.uber.org/fx"

	"signal_bot/internal/modules/config"
	diag "signal_bot/internal/modules/diagnostics/service"
	gatesvc "signal_bot/internal/modules/gatekeeper/service"
	market "signal_bot/internal/modules/market_data/service"
	orchsvc "signal_bot/internal/modules/orchestrator/service"
	sigsvc "signal_bot/internal/modules/signal/service"
	"signal_bot/internal/store"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(
				cfg *config.Config,
				watch *store.Watchlist,
				signals *store.Signals,
				provider *market.Provider,
				stream *market.Stream,
				rules *sigsvc.RuleSet,
				gen *sigsvc.Generator,
				g *gatesvc.Gatekeeper,
				o *orchsvc.Orchestrator,
				health *diag.State,
			) *Runner {
				return New(cfg, watch, signals, provider, stream, rules, gen, g, o, health)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go r.Run(ctx)
					return nil
				},
			})
		}),
	)
}
