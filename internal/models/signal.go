package models

type SignalName string

const (
	SignalOpenPosition      SignalName = "openPosition"
	SignalTakeProfit        SignalName = "takeProfit"
	SignalRoe               SignalName = "roe"
	SignalCreateLimitOrders SignalName = "createLimitOrders"
)

// Signal именованный сигнал шины. Заполняются только поля, нужные конкретному сигналу.
type Signal struct {
	Name   SignalName
	Symbol string
	Side   Side

	// openPosition
	TickPrice float64
	Iteration int

	// createLimitOrders
	Amount     float64
	EntryPrice float64

	// roe
	Position *Position
}
