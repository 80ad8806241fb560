package binance_client

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/exchange"
	"webhook_trader/internal/modules/binance_client/service"
	"webhook_trader/internal/modules/config"
	healthsvc "webhook_trader/internal/modules/health/service"
)

func newClient(cfg *config.Config, log *zap.Logger) *service.Client {
	return service.NewClient(cfg.Binance.Key, cfg.Binance.Secret, log)
}

func newStream(cfg *config.Config, c *service.Client, state *healthsvc.State, log *zap.Logger) *service.Stream {
	return service.NewStream(c, state, cfg.Binance.StreamURL, log)
}

// Module REST-клиент и user-data стрим Binance Futures.
func Module() fx.Option {
	return fx.Module("binance_client",
		fx.Provide(
			newClient,
			newStream,
			func(c *service.Client) exchange.Gateway { return c },
			func(s *service.Stream) exchange.EventSource { return s },
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Stream, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := s.Start(ctx); err != nil {
						return err
					}
					log.Info("binance user data stream started")
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return s.Stop(ctx)
				},
			})
		}),
	)
}
