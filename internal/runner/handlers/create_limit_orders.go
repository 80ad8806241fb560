package handlers

import (
	"context"

	"webhook_trader/internal/tradectx"
)

// CreateLimitOrders продолжение лимитного входа после исполнения:
// старт цикла, лесенка лимиток и SL/TP от цены входа.
func (h *Handlers) CreateLimitOrders(ctx context.Context, ec *tradectx.EventContext) error {
	sig := ec.Signal
	h.engine.StartCycle(ctx, ec.Symbol, sig.Side, sig.Amount)
	h.notifier.Sendf("🟢 Исполнен лимит на вход %s [%s] %.4f @ %.4f", ec.Symbol, sig.Side.PosSide(), abs(sig.Amount), sig.EntryPrice)

	if _, err := h.SetLimitOrders(ctx, ec, sig.Side.PosSide(), sig.EntryPrice, sig.Amount); err != nil {
		return err
	}

	position, err := ec.Position(ctx, sig.Side, true)
	if err != nil {
		return err
	}
	position.EntryPrice = sig.EntryPrice
	_, err = h.SetTPSL(ctx, ec, position, onOpenTasks(h.trade))
	return err
}
