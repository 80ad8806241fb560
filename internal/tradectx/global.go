package tradectx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
	"webhook_trader/pkg/retry"
)

// GlobalContext долгоживущий кэш аккаунта: exchangeInfo, все позиции, все ордера.
// Пишут в него REST-обновления, WS-события и поллер ROE.
type GlobalContext struct {
	gw     exchange.Gateway
	policy retry.Policy
	log    *zap.Logger

	mu            sync.RWMutex
	symbols       map[string]models.SymbolInfo
	positions     []models.Position
	opened        []models.Position
	orders        []models.Order
	ordersLoaded  bool
	serverOffset  time.Duration
	positionsTime time.Time
}

func NewGlobalContext(gw exchange.Gateway, policy retry.Policy, log *zap.Logger) *GlobalContext {
	return &GlobalContext{
		gw:      gw,
		policy:  policy,
		log:     log,
		symbols: make(map[string]models.SymbolInfo),
	}
}

func (g *GlobalContext) FetchExchangeInfo(ctx context.Context) (int, error) {
	infos, err := retry.Do(ctx, g.policy, "exchangeInfo", g.gw.ExchangeInfo)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range infos {
		g.symbols[s.Symbol] = s
	}
	return len(g.symbols), nil
}

// SymbolInfo из кэша; при промахе перечитывает exchangeInfo один раз.
func (g *GlobalContext) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	g.mu.RLock()
	info, ok := g.symbols[symbol]
	g.mu.RUnlock()
	if ok {
		return info, nil
	}
	if _, err := g.FetchExchangeInfo(ctx); err != nil {
		return models.SymbolInfo{}, err
	}
	g.mu.RLock()
	info, ok = g.symbols[symbol]
	g.mu.RUnlock()
	if !ok {
		return models.SymbolInfo{}, errs.Unexpected(errs.CodeNoSymbols, symbol, "")
	}
	return info, nil
}

// SyncServerTime запоминает расхождение локальных часов с биржей.
func (g *GlobalContext) SyncServerTime(ctx context.Context) (time.Duration, error) {
	before := time.Now()
	ms, err := retry.Do(ctx, g.policy, "serverTime", g.gw.ServerTime)
	if err != nil {
		return 0, err
	}
	if ms == 0 {
		return 0, errs.Unexpected(errs.CodeNoServerTime, "", "")
	}
	rtt := time.Since(before)
	offset := time.UnixMilli(ms).Add(rtt / 2).Sub(time.Now())

	g.mu.Lock()
	g.serverOffset = offset
	g.mu.Unlock()
	return offset, nil
}

func (g *GlobalContext) ServerTime() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return time.Now().Add(g.serverOffset)
}

func (g *GlobalContext) Positions(ctx context.Context, force bool) ([]models.Position, error) {
	if !force {
		// копия под локом: markPrice пишется в тот же массив
		g.mu.RLock()
		loaded := g.positions != nil
		cached := clonePositions(g.positions)
		g.mu.RUnlock()
		if loaded {
			return cached, nil
		}
	}

	positions, err := retry.Do(ctx, g.policy, "positions", func(ctx context.Context) ([]models.Position, error) {
		return g.gw.Positions(ctx, "")
	})
	if err != nil {
		return nil, errs.Unexpected(errs.CodeGlobalNoPositions, "", "").WithCause(err)
	}
	if positions == nil {
		positions = []models.Position{}
	}

	g.mu.Lock()
	g.positions = positions
	g.opened = filterOpened(positions)
	g.positionsTime = time.Now()
	g.mu.Unlock()
	return clonePositions(positions), nil
}

func (g *GlobalContext) OpenedPositions(ctx context.Context, force bool) ([]models.Position, error) {
	if _, err := g.Positions(ctx, force); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return clonePositions(g.opened), nil
}

func (g *GlobalContext) Orders(ctx context.Context, force bool) ([]models.Order, error) {
	if !force {
		g.mu.RLock()
		loaded := g.ordersLoaded
		cached := cloneOrders(g.orders)
		g.mu.RUnlock()
		if loaded {
			return cached, nil
		}
	}

	orders, err := retry.Do(ctx, g.policy, "openOrders", func(ctx context.Context) ([]models.Order, error) {
		return g.gw.OpenOrders(ctx, "")
	})
	if err != nil {
		return nil, errs.Unexpected(errs.CodeNoOrders, "", "").WithCause(err)
	}

	g.mu.Lock()
	g.orders = orders
	g.ordersLoaded = true
	g.mu.Unlock()
	return cloneOrders(orders), nil
}

// ApplyOrderUpdate upsert по id; отмена, истечение и исполнение удаляют ордер из кэша.
func (g *GlobalContext) ApplyOrderUpdate(u models.OrderUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := -1
	for i := range g.orders {
		if g.orders[i].ID == u.OrderID {
			idx = i
			break
		}
	}

	if u.Terminal() {
		if idx >= 0 {
			g.orders = append(g.orders[:idx], g.orders[idx+1:]...)
		}
		return
	}
	if idx >= 0 {
		g.orders[idx].Update(u)
		return
	}
	var o models.Order
	o.Update(u)
	g.orders = append(g.orders, o)
}

func (g *GlobalContext) HasOrder(orderID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, o := range g.orders {
		if o.ID == orderID {
			return true
		}
	}
	return false
}

// HasStopLoss ордер с таким id висит в кэше и это SL.
func (g *GlobalContext) HasStopLoss(orderID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, o := range g.orders {
		if o.ID == orderID && o.IsStopLoss() {
			return true
		}
	}
	return false
}

// UpdateMarkPrice обновляет markPrice открытых позиций символа и возвращает их.
func (g *GlobalContext) UpdateMarkPrice(symbol string, price float64) []models.Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Position
	for i := range g.opened {
		if g.opened[i].Symbol == symbol {
			g.opened[i].MarkPrice = price
			out = append(out, g.opened[i])
		}
	}
	for i := range g.positions {
		if g.positions[i].Symbol == symbol {
			g.positions[i].MarkPrice = price
		}
	}
	return out
}

func filterOpened(positions []models.Position) []models.Position {
	opened := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpened() {
			opened = append(opened, p)
		}
	}
	return opened
}

func clonePositions(in []models.Position) []models.Position {
	if in == nil {
		return nil
	}
	return append([]models.Position(nil), in...)
}

func cloneOrders(in []models.Order) []models.Order {
	if in == nil {
		return nil
	}
	return append([]models.Order(nil), in...)
}
