package exchange

import (
	"context"

	"webhook_trader/internal/models"
)

// OrderRequest тело ордера, уже приведённое к точности инструмента.
type OrderRequest struct {
	Symbol        string
	Side          models.Side
	PosSide       models.PosSide
	Type          models.OrderType
	Quantity      string
	Price         string
	StopPrice     string
	TimeInForce   string
	ClosePosition bool
	// ClientOrderID одинаковый для всех повторов одного ордера, дубль отсекает биржа.
	ClientOrderID string
}

// Gateway подписанный REST биржи: запрос -> разобранный ответ.
// symbol == "" в Positions/OpenOrders означает весь аккаунт.
type Gateway interface {
	ExchangeInfo(ctx context.Context) ([]models.SymbolInfo, error)
	ServerTime(ctx context.Context) (int64, error)
	Positions(ctx context.Context, symbol string) ([]models.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	Balances(ctx context.Context) (map[string]float64, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	CreateOrder(ctx context.Context, req OrderRequest) (models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
