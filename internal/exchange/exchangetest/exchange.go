// Package exchangetest in-memory биржа в hedge-режиме для тестов.
package exchangetest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
)

const (
	MethodExchangeInfo    = "ExchangeInfo"
	MethodServerTime      = "ServerTime"
	MethodPositions       = "Positions"
	MethodOpenOrders      = "OpenOrders"
	MethodBalances        = "Balances"
	MethodMarkPrice       = "MarkPrice"
	MethodCreateOrder     = "CreateOrder"
	MethodCancelOrder     = "CancelOrder"
	MethodCancelAllOrders = "CancelAllOrders"
	MethodSetLeverage     = "SetLeverage"
)

type Call struct {
	Method  string
	Symbol  string
	OrderID int64
	Request exchange.OrderRequest
}

type posKey struct {
	symbol  string
	posSide models.PosSide
}

type Exchange struct {
	mu sync.Mutex

	nextID     int64
	serverTime int64
	symbols    map[string]models.SymbolInfo
	positions  map[posKey]*models.Position
	leverage   map[string]int
	orders     []models.Order
	balances   map[string]float64
	marks      map[string]float64
	failures   map[string][]error
	calls      []Call
}

var _ exchange.Gateway = (*Exchange)(nil)

func New() *Exchange {
	return &Exchange{
		nextID:     1000,
		serverTime: 1_700_000_000_000,
		symbols:    make(map[string]models.SymbolInfo),
		positions:  make(map[posKey]*models.Position),
		leverage:   make(map[string]int),
		balances:   make(map[string]float64),
		marks:      make(map[string]float64),
		failures:   make(map[string][]error),
	}
}

// AddSymbol регистрирует инструмент и нулевые LONG/SHORT позиции по нему.
func (e *Exchange) AddSymbol(info models.SymbolInfo, markPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[info.Symbol] = info
	e.marks[info.Symbol] = markPrice
	e.ensure(info.Symbol)
}

func (e *Exchange) SetMarkPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[symbol] = price
}

func (e *Exchange) SetBalance(asset string, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = v
}

func (e *Exchange) SetServerTime(ms int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serverTime = ms
}

// SetPosition подменяет позицию целиком (amount со знаком: SHORT отрицательный).
func (e *Exchange) SetPosition(p models.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensure(p.Symbol)
	if p.Side == "" {
		p.Side = p.PosSide.Side()
	}
	if p.Leverage == 0 {
		p.Leverage = e.leverage[p.Symbol]
	}
	cp := p
	e.positions[posKey{p.Symbol, p.PosSide}] = &cp
}

// FailNext ставит в очередь ошибку для следующего вызова метода.
func (e *Exchange) FailNext(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[method] = append(e.failures[method], err)
}

func (e *Exchange) Position(symbol string, posSide models.PosSide) models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[posKey{symbol, posSide}]; ok {
		return e.withMark(*p)
	}
	return models.Position{Symbol: symbol, PosSide: posSide, Side: posSide.Side()}
}

func (e *Exchange) Orders(symbol string) []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for _, o := range e.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (e *Exchange) Calls(method string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (e *Exchange) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *Exchange) ExchangeInfo(_ context.Context) ([]models.SymbolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodExchangeInfo}); err != nil {
		return nil, err
	}
	out := make([]models.SymbolInfo, 0, len(e.symbols))
	for _, s := range e.symbols {
		out = append(out, s)
	}
	return out, nil
}

func (e *Exchange) ServerTime(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodServerTime}); err != nil {
		return 0, err
	}
	return e.serverTime, nil
}

func (e *Exchange) Positions(_ context.Context, symbol string) ([]models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodPositions, Symbol: symbol}); err != nil {
		return nil, err
	}
	var out []models.Position
	for _, ps := range []models.PosSide{models.PosSideLong, models.PosSideShort} {
		for k, p := range e.positions {
			if k.posSide != ps || (symbol != "" && k.symbol != symbol) {
				continue
			}
			out = append(out, e.withMark(*p))
		}
	}
	return out, nil
}

func (e *Exchange) OpenOrders(_ context.Context, symbol string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodOpenOrders, Symbol: symbol}); err != nil {
		return nil, err
	}
	var out []models.Order
	for _, o := range e.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e *Exchange) Balances(_ context.Context) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodBalances}); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out, nil
}

func (e *Exchange) MarkPrice(_ context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodMarkPrice, Symbol: symbol}); err != nil {
		return 0, err
	}
	return e.marks[symbol], nil
}

// CreateOrder: MARKET исполняется сразу и двигает позицию, остальные висят открытыми.
func (e *Exchange) CreateOrder(_ context.Context, req exchange.OrderRequest) (models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodCreateOrder, Symbol: req.Symbol, Request: req}); err != nil {
		return models.Order{}, err
	}
	if _, ok := e.symbols[req.Symbol]; !ok {
		return models.Order{}, errs.Exchange(req.Symbol, -1121, "Invalid symbol.", nil)
	}
	qty, _ := strconv.ParseFloat(req.Quantity, 64)
	price, _ := strconv.ParseFloat(req.Price, 64)
	stop, _ := strconv.ParseFloat(req.StopPrice, 64)

	e.nextID++
	o := models.Order{
		ID:            e.nextID,
		ClientID:      req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		PosSide:       req.PosSide,
		Type:          req.Type,
		Status:        "NEW",
		Price:         price,
		StopPrice:     stop,
		Quantity:      qty,
		TimeInForce:   req.TimeInForce,
		ClosePosition: req.ClosePosition,
	}

	if req.Type != models.OrderTypeMarket {
		e.orders = append(e.orders, o)
		return o, nil
	}

	if qty <= 0 {
		return models.Order{}, errs.Exchange(req.Symbol, -4003, "Quantity less than or equal to zero.", nil)
	}
	e.ensure(req.Symbol)
	p := e.positions[posKey{req.Symbol, req.PosSide}]
	signed := qty * req.PosSide.Direction()
	if req.Side == req.PosSide.Side() {
		abs := math.Abs(p.Amount)
		mark := e.marks[req.Symbol]
		if abs+qty > 0 {
			p.EntryPrice = (p.EntryPrice*abs + mark*qty) / (abs + qty)
		}
		p.Amount += signed
	} else {
		remaining := math.Abs(p.Amount) - qty
		if remaining <= 1e-12 {
			p.Amount = 0
			p.EntryPrice = 0
		} else {
			p.Amount = remaining * req.PosSide.Direction()
		}
	}
	o.Status = models.OrderStatusFilled
	return o, nil
}

func (e *Exchange) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodCancelOrder, Symbol: symbol, OrderID: orderID}); err != nil {
		return err
	}
	for i, o := range e.orders {
		if o.ID == orderID && o.Symbol == symbol {
			e.orders = append(e.orders[:i], e.orders[i+1:]...)
			return nil
		}
	}
	return errs.Exchange(symbol, -2011, "Unknown order sent.", nil)
}

func (e *Exchange) CancelAllOrders(_ context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodCancelAllOrders, Symbol: symbol}); err != nil {
		return err
	}
	kept := e.orders[:0]
	for _, o := range e.orders {
		if o.Symbol != symbol {
			kept = append(kept, o)
		}
	}
	e.orders = kept
	return nil
}

func (e *Exchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(Call{Method: MethodSetLeverage, Symbol: symbol}); err != nil {
		return err
	}
	if leverage <= 0 || leverage > 125 {
		return errs.Exchange(symbol, -4028, fmt.Sprintf("Leverage %d is not valid", leverage), nil)
	}
	e.leverage[symbol] = leverage
	for k, p := range e.positions {
		if k.symbol == symbol {
			p.Leverage = leverage
		}
	}
	return nil
}

// FillOrder исполняет висящий LIMIT как будто его налила биржа.
func (e *Exchange) FillOrder(orderID int64) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.orders {
		if o.ID != orderID {
			continue
		}
		e.orders = append(e.orders[:i], e.orders[i+1:]...)
		p := e.positions[posKey{o.Symbol, o.PosSide}]
		if o.Side == o.PosSide.Side() {
			abs := math.Abs(p.Amount)
			p.EntryPrice = (p.EntryPrice*abs + o.Price*o.Quantity) / (abs + o.Quantity)
			p.Amount += o.Quantity * o.PosSide.Direction()
		}
		o.Status = models.OrderStatusFilled
		return o, true
	}
	return models.Order{}, false
}

func (e *Exchange) ensure(symbol string) {
	lev := e.leverage[symbol]
	if lev == 0 {
		lev = models.DefaultLeverage
		e.leverage[symbol] = lev
	}
	for _, ps := range []models.PosSide{models.PosSideLong, models.PosSideShort} {
		k := posKey{symbol, ps}
		if _, ok := e.positions[k]; !ok {
			e.positions[k] = &models.Position{Symbol: symbol, PosSide: ps, Side: ps.Side(), Leverage: lev}
		}
	}
}

func (e *Exchange) withMark(p models.Position) models.Position {
	p.MarkPrice = e.marks[p.Symbol]
	return p
}

func (e *Exchange) record(c Call) error {
	e.calls = append(e.calls, c)
	if q := e.failures[c.Method]; len(q) > 0 {
		err := q[0]
		e.failures[c.Method] = q[1:]
		return err
	}
	return nil
}
