package telegram

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/models"
	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/notify"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
)

// status склейка позиций аккаунта и циклов для команд бота.
type status struct {
	global *tradectx.GlobalContext
	engine *cycle.Engine
}

func (s status) OpenedPositions(ctx context.Context, force bool) ([]models.Position, error) {
	return s.global.OpenedPositions(ctx, force)
}

func (s status) Snapshots() []models.CycleSnapshot { return s.engine.Snapshots() }

// newNotifier без токена уведомления уходят в лог.
func newNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, *notify.Telegram, error) {
	if cfg.Telegram.Token == "" {
		log.Info("TELEGRAM_TOKEN is empty, notifications go to log")
		return notify.NewLog(log.Named("notify")), nil, nil
	}
	t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log.Named("telegram"))
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(newNotifier),
		// Запуск основного цикла через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, t *notify.Telegram, global *tradectx.GlobalContext, engine *cycle.Engine) {
				if t == nil {
					return
				}
				t.SetStatusSource(status{global: global, engine: engine})
				// ctx из OnStart живёт только до конца старта
				runCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return t.Start(runCtx)
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
