package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/models"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
)

// OpenPosition открывает новый цикл. Если позиция ещё не видна на бирже
// (NO_POSITIONS, NO_POSITION, NO_ORDER), сигнал переотправляется с Iteration+1.
func (h *Handlers) OpenPosition(ctx context.Context, ec *tradectx.EventContext) error {
	sig := ec.Signal
	if sig.Iteration > h.maxIterations {
		ec.Log().Warn("open skipped: too many failed iterations", zap.Int("iteration", sig.Iteration))
		return nil
	}

	err := h.openPosition(ctx, ec)
	if errs.HasCode(err, errs.CodeNoPositions, errs.CodeNoPosition, errs.CodeNoOrder) {
		ec.Log().Warn("open will be retried", zap.Int("iteration", sig.Iteration+1), zap.Error(err))
		next := sig
		next.Iteration++
		h.emitter.Emit(next)
		return nil
	}
	return err
}

func (h *Handlers) openPosition(ctx context.Context, ec *tradectx.EventContext) error {
	sig := ec.Signal
	symbol, side := ec.Symbol, sig.Side

	opened, err := ec.OpenedPositions(ctx, false)
	if err != nil {
		return err
	}

	complete := h.engine.IsCompleteCycle(symbol)
	first := h.engine.IsFirstEvent(symbol)

	sameSide, hasSameSide := findPosition(opened, side)
	isExtra := hasSameSide && h.trade.AllowExtra

	extra := h.engine.GateExtra(ctx, symbol, isExtra, len(opened) > 0)
	if extra == cycle.ExtraSkip {
		ec.Log().Warn("open skipped: extra interval", zap.Int("count", h.engine.State(symbol).ExtraCount), zap.Int("every", h.trade.SetExtraEvery))
		return nil
	}

	if len(opened) > 0 && h.trade.CreatePositions {
		if len(opened) == 1 && hasSameSide && !h.trade.AllowExtra {
			return errs.Unexpected(errs.CodeSameSide, symbol, string(side))
		}

		twoPositions := len(opened) > 1
		oppositeSide := false
		for _, p := range opened {
			if p.PosSide != side.PosSide() {
				oppositeSide = true
			}
		}
		shouldClose := !complete && !first && !isExtra
		if shouldClose || twoPositions || oppositeSide {
			for _, p := range opened {
				if err := ec.ClosePosition(ctx, p, 0); err != nil {
					return err
				}
				ec.Log().Info("position closed", zap.String("posSide", string(p.PosSide)), zap.Float64("amount", p.Amount))
			}
		}
	}

	canceled := 0
	if orders, err := ec.Orders(ctx, false); err == nil {
		canceled = len(orders)
	}
	if err := ec.CancelAllOrders(ctx); err != nil {
		return err
	}
	ec.Log().Info("orders canceled before open", zap.Int("count", canceled))

	var position models.Position
	if h.trade.CreatePositions {
		qty, err := h.positionQuantity(ctx, ec)
		if err != nil {
			return err
		}

		if sig.TickPrice > 0 && h.trade.LimitOrderPricePercent > 0 {
			return h.openLimit(ctx, ec, qty)
		}

		if extra == cycle.ExtraScale {
			qty = abs(sameSide.Amount * h.trade.ExtraIntervalPercent)
			ec.Log().Warn("extra interval quantity", zap.Float64("qty", qty), zap.Int("count", h.engine.State(symbol).ExtraCount))
		}

		position, err = ec.CreatePosition(ctx, side, qty)
		if err != nil {
			return err
		}
		if position.Amount == 0 {
			return errs.Unexpected(errs.CodeNoPosition, symbol, string(side))
		}
		h.engine.StartCycle(ctx, symbol, side, position.Amount)
		ec.Log().Info("position opened", zap.Float64("qty", qty), zap.Float64("amount", position.Amount), zap.Float64("entry", position.EntryPrice))
		h.notifier.Sendf("🟢 Открыта позиция %s [%s] на %.4f @ %.4f", symbol, side.PosSide(), abs(position.Amount), position.EntryPrice)
	} else {
		if !hasSameSide {
			return errs.Unexpected(errs.CodeNoPosition, symbol, string(side))
		}
		position = sameSide
		h.engine.StartCycle(ctx, symbol, side, position.Amount)
	}

	if _, err := h.SetLimitOrders(ctx, ec, position.PosSide, position.EntryPrice, position.Amount); err != nil {
		return err
	}
	_, err = h.SetTPSL(ctx, ec, position, onOpenTasks(h.trade))
	return err
}

// openLimit вход лимиткой от цены тика: LONG ниже, SHORT выше. Цикл стартует при исполнении.
func (h *Handlers) openLimit(ctx context.Context, ec *tradectx.EventContext, qty float64) error {
	sig := ec.Signal
	tick := sig.TickPrice
	price := tick - tick*h.trade.LimitOrderPricePercent
	if sig.Side.PosSide() == models.PosSideShort {
		price = tick + tick*h.trade.LimitOrderPricePercent
	}

	order, err := ec.CreateOrder(ctx, tradectx.OrderParams{
		Side:        sig.Side,
		PosSide:     sig.Side.PosSide(),
		Type:        models.OrderTypeLimit,
		Quantity:    qty,
		Price:       price,
		TimeInForce: models.TimeInForceGTC,
	})
	if err != nil {
		return err
	}
	if order.ID == 0 {
		return errs.Unexpected(errs.CodeNoOrder, ec.Symbol, string(sig.Side))
	}

	h.engine.SetPendingLimit(ctx, ec.Symbol, models.PendingLimit{
		OrderID:    order.ID,
		Side:       sig.Side,
		Amount:     qty,
		EntryPrice: tick,
	})
	ec.Log().Info("limit open order placed",
		zap.Int64("orderId", order.ID),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Float64("tickPrice", tick),
	)
	return nil
}

func findPosition(positions []models.Position, side models.Side) (models.Position, bool) {
	for _, p := range positions {
		if p.PosSide == side.PosSide() {
			return p, true
		}
	}
	return models.Position{}, false
}
