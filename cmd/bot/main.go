package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"signal_bot/internal/modules/bracket"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/diagnostics"
	"signal_bot/internal/modules/gatekeeper"
	"signal_bot/internal/modules/market_data"
	"signal_bot/internal/modules/okx_client"
	"signal_bot/internal/modules/orchestrator"
	"signal_bot/internal/modules/postgres"
	"signal_bot/internal/modules/reconciler"
	"signal_bot/internal/modules/signal"
	"signal_bot/internal/notify"
	"signal_bot/internal/runner"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"
)

func main() {
	// .env опционален, в проде переменные приходят из окружения
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context { return context.Background() },
		),
		config.Module(),
		postgres.Module(),
		store.Module(),
		okx_client.Module(),
		market_data.Module(),
		signal.Module(),
		notify.Module(),
		gatekeeper.Module(),
		orchestrator.Module(),
		bracket.Module(),
		reconciler.Module(),
		runner.Module(),
		diagnostics.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				logger.Warn("трейсинг не поднялся: %v", err)
				return
			}
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					closeTracer()
					return nil
				},
			})
		}),
	)
	if err := app.Start(context.Background()); err != nil {
		logger.Fatal("старт: %v", err)
	}

	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		logger.Error("остановка: %v", err)
	}
}
