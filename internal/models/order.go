package models

type Order struct {
	ID            int64     `json:"id"`
	ClientID      string    `json:"clientId"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	PosSide       PosSide   `json:"posSide"`
	Type          OrderType `json:"type"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	StopPrice     float64   `json:"stopPrice"`
	Quantity      float64   `json:"quantity"`
	TimeInForce   string    `json:"timeInForce"`
	ReduceOnly    bool      `json:"reduceOnly"`
	ClosePosition bool      `json:"closePosition"`
}

func (o Order) IsStopLoss() bool {
	return o.Type == OrderTypeStop || o.Type == OrderTypeStopMarket
}

func (o Order) IsTakeProfit() bool {
	return o.Type == OrderTypeTakeProfit || o.Type == OrderTypeTakeProfitMarket
}

// Update накатывает order-update событие поверх кэша.
func (o *Order) Update(u OrderUpdate) {
	o.ID = u.OrderID
	o.Symbol = u.Symbol
	if u.ClientID != "" {
		o.ClientID = u.ClientID
	}
	o.Side = u.Side
	o.PosSide = u.PosSide
	o.Type = u.Type
	o.Status = u.Status
	o.Price = u.Price
	o.StopPrice = u.StopPrice
	o.Quantity = u.Quantity
	o.TimeInForce = u.TimeInForce
	o.ReduceOnly = u.ReduceOnly
	o.ClosePosition = u.ClosePosition
}
