package runner

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/modules/health"
	healthsvc "webhook_trader/internal/modules/health/service"
	"webhook_trader/internal/notify"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/runner/handlers"
	"webhook_trader/internal/tradectx"
	"webhook_trader/pkg/retry"
)

func NewRetryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.Delay,
		Retryable: errs.Retryable,
		OnRetry: func(op string, _ int, _ error) {
			metrics.RetriesTotal.WithLabelValues(op).Inc()
		},
	}
}

func NewEngine(cfg *config.Config, store cycle.Store, log *zap.Logger) *cycle.Engine {
	return cycle.NewEngine(cycle.Config{
		ClosePercents:        cfg.Trade.ClosePercents,
		AllowExtra:           cfg.Trade.AllowExtra,
		SetExtraEvery:        cfg.Trade.SetExtraEvery,
		ExtraIntervalPercent: cfg.Trade.ExtraIntervalPercent,
		RoeTiers:             cfg.Trade.RoeTiers,
		Cooldown:             cfg.RoeCooldown,
	}, store, log.Named("cycle"))
}

func newBus(
	gw exchange.Gateway,
	global *tradectx.GlobalContext,
	engine *cycle.Engine,
	policy retry.Policy,
	tracer opentracing.Tracer,
	shutdown fx.Shutdowner,
	log *zap.Logger,
) *Bus {
	return NewBus(gw, global, engine, policy, tracer, shutdown, log.Named("bus"))
}

func newGlobal(gw exchange.Gateway, policy retry.Policy, log *zap.Logger) *tradectx.GlobalContext {
	return tradectx.NewGlobalContext(gw, policy, log.Named("global"))
}

func newHandlers(cfg *config.Config, engine *cycle.Engine, bus *Bus, n notify.Notifier, log *zap.Logger) *handlers.Handlers {
	return handlers.New(cfg, engine, bus, n, log.Named("handlers"))
}

func newWatcher(
	cfg *config.Config,
	global *tradectx.GlobalContext,
	engine *cycle.Engine,
	bus *Bus,
	source exchange.EventSource,
	state *healthsvc.State,
	log *zap.Logger,
) *Watcher {
	return NewWatcher(global, engine, bus, source, state, cfg.RoePollInterval, log.Named("watcher"))
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewRetryPolicy,
			NewEngine,
			newGlobal,
			newBus,
			newHandlers,
			newWatcher,
			func(b *Bus) health.CycleReporter { return b },
			func(b *Bus) Emitter { return b },
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			global *tradectx.GlobalContext,
			engine *cycle.Engine,
			bus *Bus,
			h *handlers.Handlers,
			watcher *Watcher,
			source exchange.EventSource,
			state *healthsvc.State,
			log *zap.Logger,
		) {
			for name, fn := range h.Routes() {
				bus.Register(name, fn)
				log.Info("signal handler registered", zap.String("signal", string(name)))
			}
			source.SetHandler(watcher)

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := engine.Restore(ctx); err != nil {
						return err
					}
					n, err := global.FetchExchangeInfo(ctx)
					if err != nil {
						return err
					}
					log.Info("exchange info loaded", zap.Int("symbols", n))

					if offset, err := global.SyncServerTime(ctx); err != nil {
						log.Warn("server time sync failed", zap.Error(err))
					} else {
						log.Info("server time synced", zap.Duration("offset", offset))
					}

					if err := watcher.Start(ctx); err != nil {
						return err
					}
					state.SetReady(true)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					state.SetReady(false)
					watcher.Stop()
					stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					return bus.Stop(stopCtx)
				},
			})
		}),
	)
}

// Emitter вход для внешних источников сигналов (вебхук).
type Emitter interface {
	Emit(sig models.Signal)
	Handles(name models.SignalName) bool
}
