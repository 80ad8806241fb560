package tradectx

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
)

// OrderParams ордер в «сырых» числах, до приведения к точности инструмента.
type OrderParams struct {
	Side          models.Side
	PosSide       models.PosSide
	Type          models.OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	TimeInForce   string
	ClosePosition bool
}

// BuildOrder приводит количество и цены к точности инструмента.
// Цены дополнительно округляются вниз до шага tickSize.
// NaN и Inf decimal не переваривает, такой ордер отклоняется сразу.
func BuildOrder(info models.SymbolInfo, p OrderParams) (exchange.OrderRequest, error) {
	for _, v := range []struct {
		name string
		val  float64
	}{{"qty", p.Quantity}, {"price", p.Price}, {"stopPrice", p.StopPrice}} {
		if math.IsNaN(v.val) || math.IsInf(v.val, 0) {
			return exchange.OrderRequest{}, errs.InvalidOrder(info.Symbol, fmt.Sprintf("%s=%v", v.name, v.val))
		}
	}

	req := exchange.OrderRequest{
		Symbol:  info.Symbol,
		Side:    p.Side,
		PosSide: p.PosSide,
		Type:    p.Type,
	}

	switch p.Type {
	case models.OrderTypeMarket:
		req.Quantity = FormatQuantity(info, p.Quantity)
	case models.OrderTypeLimit:
		fillLimit(info, p, &req)
	case models.OrderTypeStop, models.OrderTypeTakeProfit:
		req.StopPrice = FormatPrice(info, p.StopPrice)
		req.ClosePosition = p.ClosePosition
		fillLimit(info, p, &req)
	case models.OrderTypeStopMarket, models.OrderTypeTakeProfitMarket:
		req.StopPrice = FormatPrice(info, p.StopPrice)
		req.ClosePosition = p.ClosePosition
		if !p.ClosePosition && p.Quantity > 0 {
			req.Quantity = FormatQuantity(info, p.Quantity)
		}
	}
	return req, nil
}

func fillLimit(info models.SymbolInfo, p OrderParams, req *exchange.OrderRequest) {
	req.Quantity = FormatQuantity(info, p.Quantity)
	req.Price = FormatPrice(info, p.Price)
	req.TimeInForce = p.TimeInForce
	if req.TimeInForce == "" {
		req.TimeInForce = models.TimeInForceGTC
	}
}

func FormatQuantity(info models.SymbolInfo, v float64) string {
	return decimal.NewFromFloat(v).StringFixed(int32(info.QuantityPrecision))
}

func FormatPrice(info models.SymbolInfo, v float64) string {
	// шум float64 (2019.9999999999998) не должен уронить цену на тик
	d := decimal.NewFromFloat(v).Round(8)
	if info.TickSize > 0 {
		tick := decimal.NewFromFloat(info.TickSize)
		d = d.Div(tick).Floor().Mul(tick)
	}
	return d.StringFixed(int32(info.PricePrecision))
}
