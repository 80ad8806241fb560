package tradectx

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
	"webhook_trader/pkg/retry"
)

// EventContext кэш на время обработки одного сигнала по одному символу.
// Живёт внутри воркера символа, поэтому без блокировок.
type EventContext struct {
	Signal models.Signal
	Symbol string

	gw     exchange.Gateway
	global *GlobalContext
	policy retry.Policy
	log    *zap.Logger

	info            models.SymbolInfo
	infoLoaded      bool
	positions       []models.Position
	positionsLoaded bool
	orders          []models.Order
	ordersLoaded    bool
	balances        map[string]float64
}

func NewEventContext(sig models.Signal, gw exchange.Gateway, global *GlobalContext, policy retry.Policy, log *zap.Logger) *EventContext {
	return &EventContext{
		Signal: sig,
		Symbol: sig.Symbol,
		gw:     gw,
		global: global,
		policy: policy,
		log:    log.With(zap.String("symbol", sig.Symbol), zap.String("signal", string(sig.Name))),
	}
}

// Init прогревает метаданные инструмента, позиции и ордера.
func (c *EventContext) Init(ctx context.Context) error {
	if _, err := c.Info(ctx); err != nil {
		return err
	}
	if _, err := c.Positions(ctx, false); err != nil {
		return err
	}
	_, err := c.Orders(ctx, false)
	return err
}

func (c *EventContext) Log() *zap.Logger { return c.log }

func (c *EventContext) Info(ctx context.Context) (models.SymbolInfo, error) {
	if c.infoLoaded {
		return c.info, nil
	}
	info, err := c.global.SymbolInfo(ctx, c.Symbol)
	if err != nil {
		return models.SymbolInfo{}, err
	}
	c.info = info
	c.infoLoaded = true
	return info, nil
}

func (c *EventContext) Positions(ctx context.Context, force bool) ([]models.Position, error) {
	if c.positionsLoaded && !force {
		return clonePositions(c.positions), nil
	}
	positions, err := retry.Do(ctx, c.policy, "positions", func(ctx context.Context) ([]models.Position, error) {
		return c.gw.Positions(ctx, c.Symbol)
	})
	if err != nil {
		return nil, errs.Unexpected(errs.CodeNoPositions, c.Symbol, string(c.Signal.Side)).WithCause(err)
	}
	c.positions = positions
	c.positionsLoaded = true
	return clonePositions(positions), nil
}

func (c *EventContext) OpenedPositions(ctx context.Context, force bool) ([]models.Position, error) {
	positions, err := c.Positions(ctx, force)
	if err != nil {
		return nil, err
	}
	opened := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpened() {
			opened = append(opened, p)
		}
	}
	return opened, nil
}

// Position открытая позиция, которую открывает сторона side.
func (c *EventContext) Position(ctx context.Context, side models.Side, force bool) (models.Position, error) {
	opened, err := c.OpenedPositions(ctx, force)
	if err != nil {
		return models.Position{}, err
	}
	for _, p := range opened {
		if p.PosSide == side.PosSide() {
			return p, nil
		}
	}
	return models.Position{}, errs.Unexpected(errs.CodeNoPosition, c.Symbol, string(side))
}

func (c *EventContext) Orders(ctx context.Context, force bool) ([]models.Order, error) {
	if c.ordersLoaded && !force {
		return cloneOrders(c.orders), nil
	}
	orders, err := retry.Do(ctx, c.policy, "openOrders", func(ctx context.Context) ([]models.Order, error) {
		return c.gw.OpenOrders(ctx, c.Symbol)
	})
	if err != nil {
		return nil, errs.Unexpected(errs.CodeNoOrders, c.Symbol, "").WithCause(err)
	}
	c.orders = orders
	c.ordersLoaded = true
	return cloneOrders(orders), nil
}

// HasOrder живой ли ордер по свежему списку.
func (c *EventContext) HasOrder(orderID int64) bool {
	for _, o := range c.orders {
		if o.ID == orderID {
			return true
		}
	}
	return false
}

// Balance маржинальный актив определяется по суффиксу символа.
func (c *EventContext) Balance(ctx context.Context) (float64, error) {
	asset := AssetOf(c.Symbol)
	if asset == "" {
		return 0, errs.Unexpected(errs.CodeNoAsset, c.Symbol, string(c.Signal.Side))
	}
	if c.balances == nil {
		balances, err := retry.Do(ctx, c.policy, "balances", c.gw.Balances)
		if err != nil {
			return 0, err
		}
		c.balances = balances
	}
	v, ok := c.balances[asset]
	if !ok {
		return 0, errs.Unexpected(errs.CodeNoAsset, c.Symbol, string(c.Signal.Side))
	}
	return v, nil
}

func AssetOf(symbol string) string {
	for _, a := range models.Assets {
		if strings.HasSuffix(symbol, a) {
			return a
		}
	}
	return ""
}

func (c *EventContext) MarkPrice(ctx context.Context) (float64, error) {
	price, err := retry.Do(ctx, c.policy, "markPrice", func(ctx context.Context) (float64, error) {
		return c.gw.MarkPrice(ctx, c.Symbol)
	})
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, errs.Unexpected(errs.CodeNoMarkPrice, c.Symbol, "")
	}
	return price, nil
}

// Leverage текущее плечо по символу, если позиции не прочитаны то дефолтное.
func (c *EventContext) Leverage(ctx context.Context) int {
	positions, err := c.Positions(ctx, false)
	if err != nil {
		return models.DefaultLeverage
	}
	for _, p := range positions {
		if p.Leverage > 0 {
			return p.Leverage
		}
	}
	return models.DefaultLeverage
}

func (c *EventContext) SetLeverage(ctx context.Context, leverage int) error {
	err := retry.Run(ctx, c.policy, "setLeverage", func(ctx context.Context) error {
		return c.gw.SetLeverage(ctx, c.Symbol, leverage)
	})
	if err != nil {
		return err
	}
	for i := range c.positions {
		c.positions[i].Leverage = leverage
	}
	return nil
}

// CreateOrder client id генерится один раз, повторы идут с ним же.
func (c *EventContext) CreateOrder(ctx context.Context, p OrderParams) (models.Order, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return models.Order{}, err
	}
	req, err := BuildOrder(info, p)
	if err != nil {
		return models.Order{}, err
	}
	req.ClientOrderID = uuid.NewString()

	order, err := retry.Do(ctx, c.policy, "createOrder", func(ctx context.Context) (models.Order, error) {
		return c.gw.CreateOrder(ctx, req)
	})
	if err != nil {
		return models.Order{}, err
	}
	c.log.Info("order created",
		zap.Int64("orderId", order.ID),
		zap.String("type", string(req.Type)),
		zap.String("side", string(req.Side)),
		zap.String("posSide", string(req.PosSide)),
		zap.String("qty", req.Quantity),
		zap.String("price", req.Price),
		zap.String("stopPrice", req.StopPrice),
	)
	if order.Type != models.OrderTypeMarket && order.Status != models.OrderStatusFilled {
		c.orders = append(c.orders, order)
	}
	return order, nil
}

func (c *EventContext) CancelOrder(ctx context.Context, orderID int64) error {
	err := retry.Run(ctx, c.policy, "cancelOrder", func(ctx context.Context) error {
		return c.gw.CancelOrder(ctx, c.Symbol, orderID)
	})
	if err != nil {
		return err
	}
	kept := make([]models.Order, 0, len(c.orders))
	for _, o := range c.orders {
		if o.ID != orderID {
			kept = append(kept, o)
		}
	}
	c.orders = kept
	return nil
}

func (c *EventContext) CancelAllOrders(ctx context.Context) error {
	err := retry.Run(ctx, c.policy, "cancelAllOrders", func(ctx context.Context) error {
		return c.gw.CancelAllOrders(ctx, c.Symbol)
	})
	if err != nil {
		return err
	}
	c.orders = nil
	c.ordersLoaded = true
	return nil
}

// CreatePosition рыночный вход и перечитывание позиции с биржи.
func (c *EventContext) CreatePosition(ctx context.Context, side models.Side, qty float64) (models.Position, error) {
	_, err := c.CreateOrder(ctx, OrderParams{
		Side:     side,
		PosSide:  side.PosSide(),
		Type:     models.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		return models.Position{}, err
	}
	pos, err := c.Position(ctx, side, true)
	if err != nil {
		if errs.HasCode(err, errs.CodeNoPosition) {
			return models.Position{}, errs.Unexpected(errs.CodeCreatedPosNotFound, c.Symbol, string(side))
		}
		return models.Position{}, err
	}
	return pos, nil
}

// ClosePosition закрывает qty (qty <= 0 значит целиком).
func (c *EventContext) ClosePosition(ctx context.Context, pos models.Position, qty float64) error {
	if qty <= 0 {
		qty = math.Abs(pos.Amount)
	}
	_, err := c.CreateOrder(ctx, OrderParams{
		Side:     pos.PosSide.Side().Opposite(),
		PosSide:  pos.PosSide,
		Type:     models.OrderTypeMarket,
		Quantity: qty,
	})
	if err != nil {
		return err
	}
	c.positionsLoaded = false
	return nil
}
