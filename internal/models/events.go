package models

import "time"

const (
	ExecTypeCanceled = "CANCELED"
	ExecTypeExpired  = "EXPIRED"

	OrderStatusFilled = "FILLED"
)

// OrderUpdate событие ORDER_TRADE_UPDATE из user-data стрима.
type OrderUpdate struct {
	Symbol        string
	ClientID      string
	Side          Side
	Type          OrderType
	TimeInForce   string
	Quantity      float64
	FilledQty     float64
	Price         float64
	StopPrice     float64
	ExecType      string
	Status        string
	OrderID       int64
	PosSide       PosSide
	ClosePosition bool
	ReduceOnly    bool
	Time          time.Time
}

// Terminal ордер больше не живёт на бирже.
func (u OrderUpdate) Terminal() bool {
	return u.ExecType == ExecTypeCanceled || u.ExecType == ExecTypeExpired || u.Status == OrderStatusFilled
}

type AccountPosition struct {
	Symbol        string
	Amount        float64
	EntryPrice    float64
	UnrealizedPnL float64
	PosSide       PosSide
}

// AccountUpdate событие ACCOUNT_UPDATE.
type AccountUpdate struct {
	Reason    string
	Positions []AccountPosition
	Time      time.Time
}

type MarkPriceUpdate struct {
	Symbol    string
	MarkPrice float64
	Time      time.Time
}
