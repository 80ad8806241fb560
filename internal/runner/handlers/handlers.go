// Package handlers шаги протокола цикла: открытие, частичный TP, ROE-стоп и лимитки после исполнения.
package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/models"
	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/notify"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
)

// Func обработчик сигнала. Контекст уже прогрет шиной.
type Func func(ctx context.Context, ec *tradectx.EventContext) error

// Emitter кладёт сигнал в очередь его символа, не блокируя.
type Emitter interface {
	Emit(sig models.Signal)
}

type Handlers struct {
	trade         config.Trade
	maxIterations int

	engine   *cycle.Engine
	emitter  Emitter
	notifier notify.Notifier
	log      *zap.Logger
}

func New(cfg *config.Config, engine *cycle.Engine, emitter Emitter, n notify.Notifier, log *zap.Logger) *Handlers {
	return &Handlers{
		trade:         cfg.Trade,
		maxIterations: cfg.OpenMaxIterations,
		engine:        engine,
		emitter:       emitter,
		notifier:      n,
		log:           log,
	}
}

// Routes какие сигналы обслуживаются. В режиме ONLY_PNL торговые сигналы не слушаем,
// roe слушаем только если заданы уровни SL_ON_ROE.
func (h *Handlers) Routes() map[models.SignalName]Func {
	routes := map[models.SignalName]Func{}
	if !h.trade.OnlyPnl {
		routes[models.SignalOpenPosition] = h.OpenPosition
		routes[models.SignalTakeProfit] = h.TakeProfit
		routes[models.SignalCreateLimitOrders] = h.CreateLimitOrders
	}
	if h.engine.HasRoeTiers() {
		routes[models.SignalRoe] = h.Roe
	}
	return routes
}

func onOpenTasks(t config.Trade) []Task {
	return []Task{
		{Percent: t.StopLossOnOpen, StopLoss: true, Ref: models.PriceRefEntry},
		{Percent: t.TakeProfitOnOpen, StopLoss: false, Ref: models.PriceRefEntry},
	}
}

func afterTPTasks(t config.Trade) []Task {
	return []Task{
		{Percent: t.StopLossAfterTP, StopLoss: true, Ref: models.PriceRefEntry},
		{Percent: t.TakeProfitAfterTP, StopLoss: false, Ref: models.PriceRefEntry},
	}
}
