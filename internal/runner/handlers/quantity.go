package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/tradectx"
)

// positionQuantity: фикс в котируемой валюте по символу, иначе процент от баланса с плечом.
// Перед расчётом плечо подтягивается к LEVERAGES, если отличается.
func (h *Handlers) positionQuantity(ctx context.Context, ec *tradectx.EventContext) (float64, error) {
	leverage := ec.Leverage(ctx)
	if want, ok := h.trade.Leverages[ec.Symbol]; ok && want > 0 && want != leverage {
		if err := ec.SetLeverage(ctx, want); err != nil {
			return 0, err
		}
		ec.Log().Info("leverage changed", zap.Int("from", leverage), zap.Int("to", want))
		leverage = want
	}

	markPrice, err := ec.MarkPrice(ctx)
	if err != nil {
		return 0, err
	}

	if value := h.trade.OpenValues[ec.Symbol]; value > 0 {
		return value / markPrice, nil
	}
	if h.trade.OpenPercent > 0 {
		balance, err := ec.Balance(ctx)
		if err != nil {
			return 0, err
		}
		if balance > 0 {
			return balance * h.trade.OpenPercent * float64(leverage) / markPrice, nil
		}
	}
	return 0, errs.Unexpected(errs.CodeNoQuantity, ec.Symbol, string(ec.Signal.Side))
}
