package service

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
)

// Client REST фьючерсов Binance поверх go-binance.
type Client struct {
	api *futures.Client
	log *zap.Logger
}

var _ exchange.Gateway = (*Client)(nil)

func NewClient(key, secret string, log *zap.Logger) *Client {
	return &Client{
		api: futures.NewClient(key, secret),
		log: log.Named("binance"),
	}
}

// API нужен стриму для listenKey.
func (c *Client) API() *futures.Client { return c.api }

func (c *Client) ExchangeInfo(ctx context.Context) ([]models.SymbolInfo, error) {
	var res *futures.ExchangeInfo
	err := c.call("exchangeInfo", "", func() (err error) {
		res, err = c.api.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.SymbolInfo, 0, len(res.Symbols))
	for _, s := range res.Symbols {
		info := models.SymbolInfo{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		if pf := s.PriceFilter(); pf != nil {
			info.TickSize = parseFloat(pf.TickSize)
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var ts int64
	err := c.call("time", "", func() (err error) {
		ts, err = c.api.NewServerTimeService().Do(ctx)
		return err
	})
	return ts, err
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]models.Position, error) {
	var res []*futures.PositionRisk
	err := c.call("positionRisk", symbol, func() (err error) {
		svc := c.api.NewGetPositionRiskService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(res))
	for _, p := range res {
		out = append(out, positionFromRisk(p))
	}
	return out, nil
}

func positionFromRisk(p *futures.PositionRisk) models.Position {
	amount := parseFloat(p.PositionAmt)
	posSide := models.PosSide(p.PositionSide)
	side := posSide.Side()
	// one-way режим: сторону определяет знак количества
	if posSide == models.PosSideBoth || posSide == "" {
		side = models.SideBuy
		if amount < 0 {
			side = models.SideSell
		}
	}
	lev, _ := strconv.Atoi(p.Leverage)
	return models.Position{
		Symbol:           p.Symbol,
		Side:             side,
		PosSide:          posSide,
		Amount:           amount,
		EntryPrice:       parseFloat(p.EntryPrice),
		MarkPrice:        parseFloat(p.MarkPrice),
		Leverage:         lev,
		LiquidationPrice: parseFloat(p.LiquidationPrice),
		UnrealizedPnL:    parseFloat(p.UnRealizedProfit),
	}
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var res []*futures.Order
	err := c.call("openOrders", symbol, func() (err error) {
		svc := c.api.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(res))
	for _, o := range res {
		out = append(out, models.Order{
			ID:            o.OrderID,
			ClientID:      o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          models.Side(o.Side),
			PosSide:       models.PosSide(o.PositionSide),
			Type:          models.OrderType(o.Type),
			Status:        string(o.Status),
			Price:         parseFloat(o.Price),
			StopPrice:     parseFloat(o.StopPrice),
			Quantity:      parseFloat(o.OrigQuantity),
			TimeInForce:   string(o.TimeInForce),
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
		})
	}
	return out, nil
}

func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	var res []*futures.Balance
	err := c.call("balance", "", func() (err error) {
		res, err = c.api.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(res))
	for _, b := range res {
		out[b.Asset] = parseFloat(b.AvailableBalance)
	}
	return out, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var res []*futures.PremiumIndex
	err := c.call("premiumIndex", symbol, func() (err error) {
		res, err = c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range res {
		if p.Symbol == symbol {
			return parseFloat(p.MarkPrice), nil
		}
	}
	return 0, nil
}

func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (models.Order, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.PosSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PosSide))
	}
	if req.Quantity != "" {
		svc = svc.Quantity(req.Quantity)
	}
	if req.Price != "" {
		svc = svc.Price(req.Price)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice)
	}
	if req.TimeInForce != "" {
		svc = svc.TimeInForce(futures.TimeInForceType(req.TimeInForce))
	}
	if req.ClosePosition {
		svc = svc.ClosePosition(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	var res *futures.CreateOrderResponse
	err := c.call("order", req.Symbol, func() (err error) {
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}

	c.log.Info("order created",
		zap.String("symbol", res.Symbol),
		zap.Int64("orderId", res.OrderID),
		zap.String("type", string(res.Type)),
		zap.String("side", string(res.Side)),
		zap.String("qty", res.OrigQuantity),
		zap.String("stopPrice", res.StopPrice),
	)

	return models.Order{
		ID:            res.OrderID,
		ClientID:      res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          models.Side(res.Side),
		PosSide:       models.PosSide(res.PositionSide),
		Type:          models.OrderType(res.Type),
		Status:        string(res.Status),
		Price:         parseFloat(res.Price),
		StopPrice:     parseFloat(res.StopPrice),
		Quantity:      parseFloat(res.OrigQuantity),
		TimeInForce:   string(res.TimeInForce),
		ReduceOnly:    res.ReduceOnly,
		ClosePosition: res.ClosePosition,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return c.call("cancelOrder", symbol, func() error {
		_, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		return err
	})
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.call("cancelAllOrders", symbol, func() error {
		return c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.call("leverage", symbol, func() error {
		_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

// StartUserStream / KeepaliveUserStream / CloseUserStream управление listenKey.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	var key string
	err := c.call("listenKey", "", func() (err error) {
		key, err = c.api.NewStartUserStreamService().Do(ctx)
		return err
	})
	return key, err
}

func (c *Client) KeepaliveUserStream(ctx context.Context, key string) error {
	return c.call("listenKeyKeepalive", "", func() error {
		return c.api.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
	})
}

func (c *Client) CloseUserStream(ctx context.Context, key string) error {
	return c.call("listenKeyClose", "", func() error {
		return c.api.NewCloseUserStreamService().ListenKey(key).Do(ctx)
	})
}

// call меряет запрос и переводит ошибку в errs.
func (c *Client) call(endpoint, symbol string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ExchangeRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		mapped := MapError(symbol, err)
		c.log.Warn("binance request failed",
			zap.String("endpoint", endpoint),
			zap.String("symbol", symbol),
			zap.Error(mapped),
		)
		return mapped
	}
	metrics.ExchangeRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// MapError отказ биржи и сетевые сбои operational, остальное фатально.
func MapError(symbol string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return errs.Exchange(symbol, apiErr.Code, apiErr.Message, err)
	}
	if isTransport(err) {
		return errs.Transport(symbol, err)
	}
	return errs.Fatal(errors.Wrapf(err, "binance %s", symbol))
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	// тело 5xx не разбирается в APIError
	return strings.Contains(err.Error(), "status code: 5")
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
