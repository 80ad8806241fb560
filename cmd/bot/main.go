package main

import (
	"context"
	"log"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"webhook_trader/internal/metrics"
	binance "webhook_trader/internal/modules/binance_client"
	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/modules/health"
	"webhook_trader/internal/modules/postgres"
	telegram "webhook_trader/internal/modules/telegram_bot"
	"webhook_trader/internal/modules/webhook"
	"webhook_trader/internal/runner"
	"webhook_trader/pkg/logger"
	"webhook_trader/pkg/tracing"
)

const serviceName = "webhook_trader"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(serviceName)
	return logger.New(cfg.LogLevel, cfg.IsDevelopment())
}

func newTracer(lc fx.Lifecycle, cfg *config.Config) (opentracing.Tracer, error) {
	tracing.SetServiceName(serviceName)
	tracer, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Jaeger.Host,
		Port: cfg.Jaeger.Port,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return tracer, nil
}

func main() {
	metrics.InitMetrics()

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			newLogger,
			newTracer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		health.Module(),
		postgres.Module(),
		binance.Module(),
		telegram.Module(),
		runner.Module(),
		webhook.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	// Run блокируется до SIGINT/SIGTERM или Shutdowner, код выхода берёт из Shutdown.
	app.Run()
}
