package service

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
)

const (
	eventOrderUpdate     = "ORDER_TRADE_UPDATE"
	eventAccountUpdate   = "ACCOUNT_UPDATE"
	eventMarkPrice       = "markPriceUpdate"
	eventListenKeyExpiry = "listenKeyExpired"
)

// ErrListenKeyExpired стрим надо поднять заново с новым ключом.
var ErrListenKeyExpired = errors.New("listen key expired")

// Декодер регистронезависимый, поэтому у пар вида e/E, s/S объявлены оба ключа.

type envelope struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	ID        *int64 `json:"id"`
}

type wsOrder struct {
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	ClientID      string `json:"c"`
	Type          string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	AvgPrice      string `json:"ap"`
	StopPrice     string `json:"sp"`
	ExecType      string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	LastQty       string `json:"l"`
	FilledQty     string `json:"z"`
	LastPrice     string `json:"L"`
	TradeTime     int64  `json:"T"`
	TradeID       int64  `json:"t"`
	ReduceOnly    bool   `json:"R"`
	PosSide       string `json:"ps"`
	ClosePosition bool   `json:"cp"`
}

type wsOrderEvent struct {
	envelope
	TransactTime int64   `json:"T"`
	Order        wsOrder `json:"o"`
}

type wsAccountPosition struct {
	Symbol        string `json:"s"`
	Amount        string `json:"pa"`
	EntryPrice    string `json:"ep"`
	UnrealizedPnL string `json:"up"`
	PosSide       string `json:"ps"`
}

type wsAccountEvent struct {
	envelope
	TransactTime int64 `json:"T"`
	Account      struct {
		Reason    string              `json:"m"`
		Positions []wsAccountPosition `json:"P"`
	} `json:"a"`
}

type wsMarkPriceEvent struct {
	envelope
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	SettlePrice string `json:"P"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
	FundingTime int64  `json:"T"`
}

// Decode разбирает сообщение стрима в models.OrderUpdate, models.AccountUpdate
// или models.MarkPriceUpdate. Ответы на SUBSCRIBE и прочие события дают nil.
func Decode(msg []byte) (any, error) {
	var env envelope
	if err := sonic.Unmarshal(msg, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}

	switch env.Event {
	case eventOrderUpdate:
		var ev wsOrderEvent
		if err := sonic.Unmarshal(msg, &ev); err != nil {
			return nil, errors.Wrap(err, "decode order update")
		}
		o := ev.Order
		return models.OrderUpdate{
			Symbol:        o.Symbol,
			ClientID:      o.ClientID,
			Side:          models.Side(o.Side),
			Type:          models.OrderType(o.Type),
			TimeInForce:   o.TimeInForce,
			Quantity:      parseFloat(o.Quantity),
			FilledQty:     parseFloat(o.FilledQty),
			Price:         parseFloat(o.Price),
			StopPrice:     parseFloat(o.StopPrice),
			ExecType:      o.ExecType,
			Status:        o.Status,
			OrderID:       o.OrderID,
			PosSide:       models.PosSide(o.PosSide),
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
			Time:          msTime(env.EventTime),
		}, nil

	case eventAccountUpdate:
		var ev wsAccountEvent
		if err := sonic.Unmarshal(msg, &ev); err != nil {
			return nil, errors.Wrap(err, "decode account update")
		}
		out := models.AccountUpdate{
			Reason:    ev.Account.Reason,
			Positions: make([]models.AccountPosition, 0, len(ev.Account.Positions)),
			Time:      msTime(env.EventTime),
		}
		for _, p := range ev.Account.Positions {
			out.Positions = append(out.Positions, models.AccountPosition{
				Symbol:        p.Symbol,
				Amount:        parseFloat(p.Amount),
				EntryPrice:    parseFloat(p.EntryPrice),
				UnrealizedPnL: parseFloat(p.UnrealizedPnL),
				PosSide:       models.PosSide(p.PosSide),
			})
		}
		return out, nil

	case eventMarkPrice:
		var ev wsMarkPriceEvent
		if err := sonic.Unmarshal(msg, &ev); err != nil {
			return nil, errors.Wrap(err, "decode mark price")
		}
		return models.MarkPriceUpdate{
			Symbol:    ev.Symbol,
			MarkPrice: parseFloat(ev.MarkPrice),
			Time:      msTime(env.EventTime),
		}, nil

	case eventListenKeyExpiry:
		return nil, ErrListenKeyExpired
	}
	return nil, nil
}

// Dispatch декодирует и отдаёт событие обработчику.
func Dispatch(msg []byte, h exchange.EventHandler) error {
	ev, err := Decode(msg)
	if err != nil || ev == nil || h == nil {
		return err
	}
	switch v := ev.(type) {
	case models.OrderUpdate:
		h.OnOrderUpdate(v)
	case models.AccountUpdate:
		h.OnAccountUpdate(v)
	case models.MarkPriceUpdate:
		h.OnMarkPrice(v)
	}
	return nil
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func subscribeMessage(id int64, streams ...string) map[string]any {
	return map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     id,
	}
}

func markPriceStream(symbol string) string {
	return strings.ToLower(symbol) + "@markPrice@1s"
}

