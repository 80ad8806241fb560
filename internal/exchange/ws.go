package exchange

import "webhook_trader/internal/models"

// EventHandler получатель типизированных событий user-data стрима.
type EventHandler interface {
	OnOrderUpdate(u models.OrderUpdate)
	OnAccountUpdate(u models.AccountUpdate)
	OnMarkPrice(u models.MarkPriceUpdate)
}

// EventSource стрим событий, к которому подключается обработчик.
type EventSource interface {
	SetHandler(h EventHandler)
	SubscribeMarkPrice(symbol string) error
}
