package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/tradectx"
)

// TakeProfit частичное закрытие очередной доли позиции.
// Idle и Complete отсекаются до любых обращений к бирже.
func (h *Handlers) TakeProfit(ctx context.Context, ec *tradectx.EventContext) error {
	symbol, side := ec.Symbol, ec.Signal.Side

	if h.engine.IsFirstEvent(symbol) {
		return errs.Unexpected(errs.CodeCycleNotStarted, symbol, string(side))
	}
	if h.engine.IsCompleteCycle(symbol) {
		return errs.Unexpected(errs.CodeTPCompleteCycle, symbol, string(side))
	}

	opened, err := ec.OpenedPositions(ctx, false)
	if err != nil {
		return err
	}
	if len(opened) == 0 {
		return errs.Unexpected(errs.CodeNoPositions, symbol, string(side))
	}

	// две позиции на одном символе - сломанное состояние, закрываем обе
	if len(opened) > 1 {
		for _, p := range opened {
			if err := ec.ClosePosition(ctx, p, 0); err != nil {
				return err
			}
			ec.Log().Warn("position force closed", zap.String("posSide", string(p.PosSide)), zap.Float64("amount", p.Amount))
		}
		return errs.Unexpected(errs.CodeTPTwoPositions, symbol, string(side))
	}

	position, ok := findPosition(opened, side)
	if !ok {
		return errs.Unexpected(errs.CodeTPNoPosition, symbol, string(side))
	}

	qty, percent, err := h.engine.PartCloseQuantity(symbol, side, position.Amount)
	if err != nil {
		return err
	}
	last := len(h.engine.State(symbol).Cycle)+1 == h.engine.Config().FullCycleSize()

	if err := ec.ClosePosition(ctx, position, qty); err != nil {
		return err
	}
	if err := h.engine.AppendTP(ctx, symbol); err != nil {
		return err
	}
	ec.Log().Info("partial close", zap.Float64("qty", qty), zap.Float64("percent", percent), zap.Bool("last", last))
	h.notifier.Sendf("💰 TP %s [%s]: закрыто %.4f (%.0f%%)", symbol, position.PosSide, qty, percent*100)

	// после последнего TP позиции уже нет
	if last {
		return nil
	}
	_, err = h.SetTPSL(ctx, ec, position, afterTPTasks(h.trade))
	return err
}
