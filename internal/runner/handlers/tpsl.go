package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/models"
	"webhook_trader/internal/tradectx"
)

// Task один защитный ордер: процент, SL или TP, от какой цены считать.
type Task struct {
	Percent  float64
	StopLoss bool
	Ref      models.PriceRef
}

// SetTPSL на каждую задачу с ненулевым процентом снимает все ордера того же класса
// и ставит новый closePosition-ордер. Повторный вызов оставляет по одному SL и TP.
func (h *Handlers) SetTPSL(ctx context.Context, ec *tradectx.EventContext, pos models.Position, tasks []Task) ([]models.Order, error) {
	orders, err := ec.Orders(ctx, true)
	if err != nil {
		return nil, err
	}

	var created []models.Order
	for _, task := range tasks {
		if task.Percent == 0 {
			continue
		}
		for _, o := range orders {
			if !sameClass(o, task.StopLoss) || !ec.HasOrder(o.ID) {
				continue
			}
			if err := ec.CancelOrder(ctx, o.ID); err != nil {
				// ордер уже исполнен или снят
				if errs.ExchangeCodeOf(err) != errs.ExchangeUnknownOrder {
					return created, err
				}
			}
			ec.Log().Info("protective order canceled", zap.Int64("orderId", o.ID), zap.String("type", string(o.Type)))
		}

		stopPrice := pos.StopPrice(task.Percent, task.StopLoss, task.Ref)
		typ := models.OrderTypeTakeProfitMarket
		if task.StopLoss {
			typ = models.OrderTypeStopMarket
		}
		order, err := ec.CreateOrder(ctx, tradectx.OrderParams{
			Side:          pos.PosSide.Side().Opposite(),
			PosSide:       pos.PosSide,
			Type:          typ,
			StopPrice:     stopPrice,
			ClosePosition: true,
		})
		if err != nil {
			return created, err
		}
		if order.ID == 0 {
			return created, errs.Unexpected(errs.CodeNoOrder, ec.Symbol, string(pos.Side))
		}
		created = append(created, order)
		ec.Log().Info("protective order placed",
			zap.String("type", string(typ)),
			zap.Float64("stopPrice", stopPrice),
			zap.Float64("percent", task.Percent),
			zap.Stringer("ref", task.Ref),
		)
	}
	return created, nil
}

func sameClass(o models.Order, stopLoss bool) bool {
	if stopLoss {
		return o.IsStopLoss()
	}
	return o.IsTakeProfit()
}

// SetLimitOrders лесенка лимиток на закрытие по LIMIT_ORDERS. Сторона закрытия
// одна на все ступени, цена уходит в сторону профита от entry.
func (h *Handlers) SetLimitOrders(ctx context.Context, ec *tradectx.EventContext, posSide models.PosSide, entryPrice, amount float64) ([]models.Order, error) {
	closeSide := posSide.Side().Opposite()
	var created []models.Order
	for i, pair := range h.trade.LimitOrders {
		pricePercent, positionPercent := pair[0], pair[1]
		if pricePercent == 0 || positionPercent == 0 {
			err := errs.Unexpected(errs.CodeLimitNoPercent, ec.Symbol, string(closeSide))
			ec.Log().Warn("limit order skipped", zap.Int("step", i), zap.Error(err))
			continue
		}

		price := models.TargetPrice(entryPrice, pricePercent, closeSide, true)
		qty := abs(amount) * positionPercent
		order, err := ec.CreateOrder(ctx, tradectx.OrderParams{
			Side:        closeSide,
			PosSide:     posSide,
			Type:        models.OrderTypeLimit,
			Quantity:    qty,
			Price:       price,
			TimeInForce: models.TimeInForceGTC,
		})
		if err != nil {
			if errs.IsOperational(err) {
				ec.Log().Warn("limit order failed", zap.Int("step", i), zap.Error(err))
				continue
			}
			return created, err
		}
		created = append(created, order)
	}
	return created, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
