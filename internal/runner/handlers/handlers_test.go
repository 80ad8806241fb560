package handlers

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange/exchangetest"
	"webhook_trader/internal/models"
	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/notify"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
	"webhook_trader/pkg/retry"
)

const eth = "ETHUSDT"

type recordEmitter struct {
	mu   sync.Mutex
	sigs []models.Signal
}

func (r *recordEmitter) Emit(sig models.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
}

type fixture struct {
	ex      *exchangetest.Exchange
	global  *tradectx.GlobalContext
	engine  *cycle.Engine
	h       *Handlers
	emitted *recordEmitter
	policy  retry.Policy
}

func baseTrade() config.Trade {
	return config.Trade{
		OpenValues:       map[string]float64{eth: 20000},
		ClosePercents:    []float64{0.3, 0.5},
		StopLossOnOpen:   0.05,
		TakeProfitOnOpen: 0.1,
		StopLossAfterTP:  0.01,
		CreatePositions:  true,
	}
}

func newFixture(t *testing.T, trade config.Trade) *fixture {
	t.Helper()
	ex := exchangetest.New()
	ex.AddSymbol(models.SymbolInfo{Symbol: eth, PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01}, 2000)
	ex.SetBalance("USDT", 1000)

	cfg := &config.Config{OpenMaxIterations: 3, Trade: trade}
	policy := retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, Retryable: errs.Retryable}
	engine := cycle.NewEngine(cycle.Config{
		ClosePercents:        trade.ClosePercents,
		AllowExtra:           trade.AllowExtra,
		SetExtraEvery:        trade.SetExtraEvery,
		ExtraIntervalPercent: trade.ExtraIntervalPercent,
		RoeTiers:             trade.RoeTiers,
		Cooldown:             10 * time.Second,
	}, nil, zap.NewNop())
	emitted := &recordEmitter{}

	return &fixture{
		ex:      ex,
		global:  tradectx.NewGlobalContext(ex, policy, zap.NewNop()),
		engine:  engine,
		h:       New(cfg, engine, emitted, notify.NewLog(zap.NewNop()), zap.NewNop()),
		emitted: emitted,
		policy:  policy,
	}
}

func (f *fixture) context(sig models.Signal) *tradectx.EventContext {
	return tradectx.NewEventContext(sig, f.ex, f.global, f.policy, zap.NewNop())
}

func (f *fixture) run(t *testing.T, sig models.Signal) error {
	t.Helper()
	ctx := context.Background()
	ec := f.context(sig)
	_ = ec.Init(ctx)
	fn, ok := f.h.Routes()[sig.Name]
	require.True(t, ok, "no route for %s", sig.Name)
	return fn(ctx, ec)
}

func open(side models.Side) models.Signal {
	return models.Signal{Name: models.SignalOpenPosition, Symbol: eth, Side: side}
}

func tp(side models.Side) models.Signal {
	return models.Signal{Name: models.SignalTakeProfit, Symbol: eth, Side: side}
}

func countOrders(orders []models.Order, typ models.OrderType) int {
	n := 0
	for _, o := range orders {
		if o.Type == typ {
			n++
		}
	}
	return n
}

func TestScenario_OpenThenTakeProfitsUntilComplete(t *testing.T) {
	f := newFixture(t, baseTrade())

	require.NoError(t, f.run(t, open(models.SideBuy)))
	assert.Equal(t, []string{"BUY"}, f.engine.State(eth).Cycle)
	assert.InDelta(t, 10, f.ex.Position(eth, models.PosSideLong).Amount, 1e-9)

	orders := f.ex.Orders(eth)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.True(t, o.ClosePosition)
		assert.Equal(t, models.SideSell, o.Side)
		assert.Equal(t, models.PosSideLong, o.PosSide)
		if o.IsStopLoss() {
			assert.InDelta(t, 1900, o.StopPrice, 1e-9)
		} else {
			assert.InDelta(t, 2200, o.StopPrice, 1e-9)
		}
	}

	require.NoError(t, f.run(t, tp(models.SideBuy)))
	assert.Equal(t, []string{"BUY", "TP"}, f.engine.State(eth).Cycle)
	assert.InDelta(t, 7, f.ex.Position(eth, models.PosSideLong).Amount, 1e-9)
	orders = f.ex.Orders(eth)
	require.Equal(t, 1, countOrders(orders, models.OrderTypeStopMarket))
	for _, o := range orders {
		if o.IsStopLoss() {
			assert.InDelta(t, 1980, o.StopPrice, 1e-9)
		}
	}

	// последний TP закрывает всё
	require.NoError(t, f.run(t, tp(models.SideBuy)))
	assert.Equal(t, []string{"BUY", "TP", "TP"}, f.engine.State(eth).Cycle)
	assert.True(t, f.engine.IsCompleteCycle(eth))
	assert.Zero(t, f.ex.Position(eth, models.PosSideLong).Amount)

	f.ex.ResetCalls()
	err := f.run(t, tp(models.SideBuy))
	assert.Equal(t, errs.CodeTPCompleteCycle, errs.CodeOf(err))
	assert.Empty(t, f.ex.Calls(exchangetest.MethodCreateOrder))
	assert.Len(t, f.engine.State(eth).Cycle, 3)
}

func TestTakeProfit_IdleIsRejected(t *testing.T) {
	f := newFixture(t, baseTrade())
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 5, EntryPrice: 1900})

	err := f.run(t, tp(models.SideBuy))

	assert.Equal(t, errs.CodeCycleNotStarted, errs.CodeOf(err))
	assert.True(t, errs.IsOperational(err))
	assert.Empty(t, f.ex.Calls(exchangetest.MethodCreateOrder))
	assert.InDelta(t, 5, f.ex.Position(eth, models.PosSideLong).Amount, 1e-12)
	assert.Empty(t, f.engine.State(eth).Cycle)
}

func TestTakeProfit_TwoPositionsAreClosed(t *testing.T) {
	f := newFixture(t, baseTrade())
	f.engine.StartCycle(context.Background(), eth, models.SideBuy, 2)
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 2, EntryPrice: 1900})
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideShort, Amount: -1, EntryPrice: 2100})

	err := f.run(t, tp(models.SideBuy))

	assert.Equal(t, errs.CodeTPTwoPositions, errs.CodeOf(err))
	assert.Zero(t, f.ex.Position(eth, models.PosSideLong).Amount)
	assert.Zero(t, f.ex.Position(eth, models.PosSideShort).Amount)
	assert.Equal(t, []string{"BUY"}, f.engine.State(eth).Cycle)
}

func TestOpenPosition_SameSideRejected(t *testing.T) {
	f := newFixture(t, baseTrade())
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 3, EntryPrice: 1900})

	err := f.run(t, open(models.SideBuy))

	assert.Equal(t, errs.CodeSameSide, errs.CodeOf(err))
	assert.Empty(t, f.ex.Calls(exchangetest.MethodCreateOrder))
}

func TestOpenPosition_OppositeSideIsClosedFirst(t *testing.T) {
	f := newFixture(t, baseTrade())
	f.engine.StartCycle(context.Background(), eth, models.SideSell, 4)
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideShort, Amount: -4, EntryPrice: 2100})

	require.NoError(t, f.run(t, open(models.SideBuy)))

	assert.Zero(t, f.ex.Position(eth, models.PosSideShort).Amount)
	assert.InDelta(t, 10, f.ex.Position(eth, models.PosSideLong).Amount, 1e-9)
	st := f.engine.State(eth)
	assert.Equal(t, []string{"BUY"}, st.Cycle)
	assert.InDelta(t, 10, st.Baseline, 1e-9)
}

func TestOpenPosition_AfterCompleteStartsNewCycle(t *testing.T) {
	f := newFixture(t, baseTrade())
	require.NoError(t, f.run(t, open(models.SideBuy)))
	require.NoError(t, f.run(t, tp(models.SideBuy)))
	require.NoError(t, f.run(t, tp(models.SideBuy)))
	require.True(t, f.engine.IsCompleteCycle(eth))

	require.NoError(t, f.run(t, open(models.SideBuy)))

	st := f.engine.State(eth)
	assert.Equal(t, []string{"BUY"}, st.Cycle)
	assert.InDelta(t, 10, st.Baseline, 1e-9)
	assert.False(t, f.engine.IsCompleteCycle(eth))
	assert.InDelta(t, 10, f.ex.Position(eth, models.PosSideLong).Amount, 1e-9)
}

func TestOpenPosition_TwoPositionsClosedThenOpened(t *testing.T) {
	f := newFixture(t, baseTrade())
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 2, EntryPrice: 1900})
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideShort, Amount: -1, EntryPrice: 2100})

	require.NoError(t, f.run(t, open(models.SideSell)))

	assert.Zero(t, f.ex.Position(eth, models.PosSideLong).Amount)
	assert.InDelta(t, -10, f.ex.Position(eth, models.PosSideShort).Amount, 1e-9)
	assert.Equal(t, []string{"SELL"}, f.engine.State(eth).Cycle)
}

func TestOpenPosition_InfiniteTickPriceSkipped(t *testing.T) {
	trade := baseTrade()
	trade.LimitOrderPricePercent = 0.01
	f := newFixture(t, trade)

	sig := open(models.SideBuy)
	sig.TickPrice = math.Inf(1)
	err := f.run(t, sig)

	assert.Equal(t, errs.CodeInvalidOrder, errs.CodeOf(err))
	assert.True(t, errs.IsOperational(err))
	assert.Empty(t, f.ex.Calls(exchangetest.MethodCreateOrder))
	assert.Nil(t, f.engine.State(eth).PendingLimit)
	assert.Empty(t, f.emitted.sigs)
}

func TestOpenPosition_SizingFromBalanceAndLeverageSync(t *testing.T) {
	trade := baseTrade()
	trade.OpenValues = nil
	trade.OpenPercent = 0.5
	trade.Leverages = map[string]int{eth: 20}
	f := newFixture(t, trade)

	require.NoError(t, f.run(t, open(models.SideSell)))

	// 1000 * 0.5 * 20 / 2000
	pos := f.ex.Position(eth, models.PosSideShort)
	assert.InDelta(t, -5, pos.Amount, 1e-9)
	assert.Equal(t, 20, pos.Leverage)
	assert.Len(t, f.ex.Calls(exchangetest.MethodSetLeverage), 1)
}

func TestOpenPosition_NoQuantity(t *testing.T) {
	trade := baseTrade()
	trade.OpenValues = nil
	f := newFixture(t, trade)

	err := f.run(t, open(models.SideBuy))

	assert.Equal(t, errs.CodeNoQuantity, errs.CodeOf(err))
	assert.Empty(t, f.emitted.sigs)
}

func TestOpenPosition_ReemitsWhenPositionMissing(t *testing.T) {
	trade := baseTrade()
	trade.CreatePositions = false
	f := newFixture(t, trade)

	require.NoError(t, f.run(t, open(models.SideBuy)))
	require.Len(t, f.emitted.sigs, 1)
	assert.Equal(t, 1, f.emitted.sigs[0].Iteration)

	last := open(models.SideBuy)
	last.Iteration = 4
	require.NoError(t, f.run(t, last))
	assert.Len(t, f.emitted.sigs, 1)
}

func TestOpenPosition_AdoptsExistingWhenCreationDisabled(t *testing.T) {
	trade := baseTrade()
	trade.CreatePositions = false
	f := newFixture(t, trade)
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 2, EntryPrice: 2000})

	require.NoError(t, f.run(t, open(models.SideBuy)))

	for _, c := range f.ex.Calls(exchangetest.MethodCreateOrder) {
		assert.NotEqual(t, models.OrderTypeMarket, c.Request.Type)
	}
	assert.Equal(t, []string{"BUY"}, f.engine.State(eth).Cycle)
	assert.Len(t, f.ex.Orders(eth), 2)
}

func TestOpenPosition_LimitEntryThenFill(t *testing.T) {
	trade := baseTrade()
	trade.LimitOrderPricePercent = 0.01
	f := newFixture(t, trade)

	sig := open(models.SideBuy)
	sig.TickPrice = 2000
	require.NoError(t, f.run(t, sig))

	orders := f.ex.Orders(eth)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderTypeLimit, orders[0].Type)
	assert.InDelta(t, 1980, orders[0].Price, 1e-9)
	assert.Empty(t, f.engine.State(eth).Cycle)
	pl := f.engine.State(eth).PendingLimit
	require.NotNil(t, pl)
	assert.Equal(t, orders[0].ID, pl.OrderID)

	_, ok := f.ex.FillOrder(pl.OrderID)
	require.True(t, ok)
	require.NoError(t, f.run(t, models.Signal{
		Name:       models.SignalCreateLimitOrders,
		Symbol:     eth,
		Side:       models.SideBuy,
		Amount:     pl.Amount,
		EntryPrice: pl.EntryPrice,
	}))

	assert.Equal(t, []string{"BUY"}, f.engine.State(eth).Cycle)
	orders = f.ex.Orders(eth)
	require.Equal(t, 1, countOrders(orders, models.OrderTypeStopMarket))
	for _, o := range orders {
		if o.IsStopLoss() {
			assert.InDelta(t, 1900, o.StopPrice, 1e-9)
		}
	}
}

func TestSetLimitOrders_LadderSkipsIncompletePairs(t *testing.T) {
	trade := baseTrade()
	trade.LimitOrders = [][2]float64{{0.01, 0.5}, {0, 0.2}, {0.02, 0.25}}
	f := newFixture(t, trade)

	require.NoError(t, f.run(t, open(models.SideBuy)))

	var limits []models.Order
	for _, o := range f.ex.Orders(eth) {
		if o.Type == models.OrderTypeLimit {
			limits = append(limits, o)
		}
	}
	require.Len(t, limits, 2)
	for _, o := range limits {
		assert.Equal(t, models.SideSell, o.Side)
		assert.Equal(t, models.PosSideLong, o.PosSide)
	}
	assert.InDelta(t, 2020, limits[0].Price, 1e-9)
	assert.InDelta(t, 5, limits[0].Quantity, 1e-9)
	assert.InDelta(t, 2040, limits[1].Price, 1e-9)
	assert.InDelta(t, 2.5, limits[1].Quantity, 1e-9)
}

func TestSetTPSL_Idempotent(t *testing.T) {
	f := newFixture(t, baseTrade())
	require.NoError(t, f.run(t, open(models.SideBuy)))
	pos := f.ex.Position(eth, models.PosSideLong)

	for i := 0; i < 3; i++ {
		ec := f.context(models.Signal{Symbol: eth})
		_, err := f.h.SetTPSL(context.Background(), ec, pos, onOpenTasks(f.h.trade))
		require.NoError(t, err)
	}

	orders := f.ex.Orders(eth)
	assert.Equal(t, 1, countOrders(orders, models.OrderTypeStopMarket))
	assert.Equal(t, 1, countOrders(orders, models.OrderTypeTakeProfitMarket))
}

func TestOpenPosition_ExtraScalesExistingPosition(t *testing.T) {
	trade := baseTrade()
	trade.AllowExtra = true
	trade.SetExtraEvery = 1
	trade.ExtraIntervalPercent = 0.5
	f := newFixture(t, trade)
	require.NoError(t, f.run(t, open(models.SideBuy)))

	require.NoError(t, f.run(t, open(models.SideBuy)))

	assert.InDelta(t, 15, f.ex.Position(eth, models.PosSideLong).Amount, 1e-9)
	st := f.engine.State(eth)
	assert.Equal(t, []string{"BUY"}, st.Cycle)
	assert.InDelta(t, 15, st.Baseline, 1e-9)
	assert.Equal(t, 1, st.ExtraCount)
}

func roeSignal(pos models.Position) models.Signal {
	return models.Signal{Name: models.SignalRoe, Symbol: pos.Symbol, Side: pos.Side, Position: &pos}
}

func TestRoe_ReplacesOnlyOnTighterTier(t *testing.T) {
	trade := baseTrade()
	trade.RoeTiers = []models.RoeTier{{Roe: 0.2, StopLoss: 0.3}, {Roe: 0.5, StopLoss: 0.1}}
	f := newFixture(t, trade)
	f.ex.SetPosition(models.Position{Symbol: eth, PosSide: models.PosSideLong, Amount: 1, EntryPrice: 2000})

	pos := f.ex.Position(eth, models.PosSideLong)
	pos.MarkPrice = 2100

	require.NoError(t, f.run(t, roeSignal(pos)))
	require.NoError(t, f.run(t, roeSignal(pos)))

	creates := f.ex.Calls(exchangetest.MethodCreateOrder)
	require.Len(t, creates, 1)
	assert.Equal(t, "1470.00", creates[0].Request.StopPrice)
	assert.Equal(t, 1, f.engine.State(eth).SlHistory.TierIndex)

	pos.MarkPrice = 2300
	require.NoError(t, f.run(t, roeSignal(pos)))

	assert.Len(t, f.ex.Calls(exchangetest.MethodCreateOrder), 2)
	assert.Equal(t, 1, countOrders(f.ex.Orders(eth), models.OrderTypeStopMarket))
	assert.Equal(t, 0, f.engine.State(eth).SlHistory.TierIndex)
}

func TestRoe_BelowAllTiers(t *testing.T) {
	trade := baseTrade()
	trade.RoeTiers = []models.RoeTier{{Roe: 0.5, StopLoss: 0.1}}
	f := newFixture(t, trade)
	pos := models.Position{Symbol: eth, Side: models.SideBuy, PosSide: models.PosSideLong, Amount: 1, EntryPrice: 2000, MarkPrice: 2010, Leverage: 10}

	err := f.run(t, roeSignal(pos))

	assert.Equal(t, errs.CodeRoeNoPercent, errs.CodeOf(err))
}

func TestRoutes(t *testing.T) {
	trade := baseTrade()
	trade.OnlyPnl = true
	f := newFixture(t, trade)
	assert.Empty(t, f.h.Routes())

	trade.RoeTiers = []models.RoeTier{{Roe: 0.5, StopLoss: 0.1}}
	f = newFixture(t, trade)
	routes := f.h.Routes()
	assert.Len(t, routes, 1)
	assert.Contains(t, routes, models.SignalRoe)
}
