package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange/exchangetest"
	"webhook_trader/internal/models"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
	"webhook_trader/pkg/retry"
)

type countingShutdowner struct{ calls atomic.Int32 }

func (s *countingShutdowner) Shutdown(...fx.ShutdownOption) error {
	s.calls.Add(1)
	return nil
}

type busFixture struct {
	ex     *exchangetest.Exchange
	global *tradectx.GlobalContext
	engine *cycle.Engine
	bus    *Bus
	down   *countingShutdowner
}

func newBusFixture(t *testing.T, cfg cycle.Config) *busFixture {
	t.Helper()
	ex := exchangetest.New()
	ex.AddSymbol(models.SymbolInfo{Symbol: "ETHUSDT", PricePrecision: 2, QuantityPrecision: 3, TickSize: 0.01}, 2000)
	ex.AddSymbol(models.SymbolInfo{Symbol: "BTCUSDT", PricePrecision: 1, QuantityPrecision: 3, TickSize: 0.1}, 40000)

	policy := retry.Policy{Attempts: 1, Retryable: errs.Retryable}
	global := tradectx.NewGlobalContext(ex, policy, zap.NewNop())
	engine := cycle.NewEngine(cfg, nil, zap.NewNop())
	down := &countingShutdowner{}
	bus := NewBus(ex, global, engine, policy, opentracing.NoopTracer{}, down, zap.NewNop())
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	return &busFixture{ex: ex, global: global, engine: engine, bus: bus, down: down}
}

func TestBus_SerializesPerSymbol(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})

	var (
		mu       sync.Mutex
		order    = map[string][]int{}
		inflight = map[string]*atomic.Int32{"ETHUSDT": {}, "BTCUSDT": {}}
		overlaps atomic.Int32
	)
	f.bus.Register(models.SignalOpenPosition, func(_ context.Context, ec *tradectx.EventContext) error {
		c := inflight[ec.Symbol]
		if c.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order[ec.Symbol] = append(order[ec.Symbol], ec.Signal.Iteration)
		mu.Unlock()
		c.Add(-1)
		return nil
	})

	for i := 0; i < 5; i++ {
		f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT", Iteration: i})
		f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "BTCUSDT", Iteration: i})
	}
	f.bus.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order["ETHUSDT"])
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order["BTCUSDT"])
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.bus.Symbols())
}

func TestBus_ReemitFromHandler(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})
	var seen atomic.Int32
	f.bus.Register(models.SignalOpenPosition, func(_ context.Context, ec *tradectx.EventContext) error {
		seen.Add(1)
		if ec.Signal.Iteration < 3 {
			next := ec.Signal
			next.Iteration++
			f.bus.Emit(next)
		}
		return nil
	})

	f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT"})
	f.bus.Wait()

	assert.Equal(t, int32(4), seen.Load())
}

func TestBus_ErrorPolicy(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})
	f.bus.Register(models.SignalTakeProfit, func(_ context.Context, ec *tradectx.EventContext) error {
		return errs.Unexpected(errs.CodeCycleNotStarted, ec.Symbol, "BUY")
	})
	f.bus.Register(models.SignalRoe, func(context.Context, *tradectx.EventContext) error {
		return errs.Fatal(assert.AnError)
	})

	f.bus.Emit(models.Signal{Name: models.SignalTakeProfit, Symbol: "ETHUSDT"})
	f.bus.Wait()
	assert.Zero(t, f.down.calls.Load())
	assert.NoError(t, f.bus.FatalErr())

	f.bus.Emit(models.Signal{Name: models.SignalRoe, Symbol: "ETHUSDT"})
	f.bus.Emit(models.Signal{Name: models.SignalRoe, Symbol: "BTCUSDT"})
	f.bus.Wait()
	assert.Equal(t, int32(1), f.down.calls.Load())
	assert.ErrorIs(t, f.bus.FatalErr(), assert.AnError)
}

func TestBus_HandlerPanicIsFatal(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})
	var after atomic.Int32
	f.bus.Register(models.SignalOpenPosition, func(context.Context, *tradectx.EventContext) error {
		panic("decimal: NaN")
	})
	f.bus.Register(models.SignalTakeProfit, func(context.Context, *tradectx.EventContext) error {
		after.Add(1)
		return nil
	})

	f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT"})
	f.bus.Emit(models.Signal{Name: models.SignalTakeProfit, Symbol: "ETHUSDT"})
	f.bus.Wait()

	// воркер пережил панику и обработал следующий сигнал
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(1), f.down.calls.Load())
	require.Error(t, f.bus.FatalErr())
	assert.Equal(t, errs.CodeInternal, errs.CodeOf(f.bus.FatalErr()))
	assert.Contains(t, f.bus.FatalErr().Error(), "decimal: NaN")
}

func TestBus_HydratesContextBeforeHandlers(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})
	f.ex.SetPosition(models.Position{Symbol: "ETHUSDT", PosSide: models.PosSideLong, Amount: 1, EntryPrice: 1900})

	var opened int
	f.bus.Register(models.SignalOpenPosition, func(ctx context.Context, ec *tradectx.EventContext) error {
		f.ex.ResetCalls()
		positions, err := ec.OpenedPositions(ctx, false)
		opened = len(positions)
		assert.Empty(t, f.ex.Calls(exchangetest.MethodPositions), "positions must come from the hydrated cache")
		return err
	})

	f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT"})
	f.bus.Wait()

	assert.Equal(t, 1, opened)
}

func TestBus_StopRejectsNewSignals(t *testing.T) {
	f := newBusFixture(t, cycle.Config{})
	var seen atomic.Int32
	f.bus.Register(models.SignalOpenPosition, func(context.Context, *tradectx.EventContext) error {
		seen.Add(1)
		return nil
	})

	f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT"})
	require.NoError(t, f.bus.Stop(context.Background()))
	f.bus.Emit(models.Signal{Name: models.SignalOpenPosition, Symbol: "ETHUSDT"})

	assert.Equal(t, int32(1), seen.Load())
}

func TestBus_CycleState(t *testing.T) {
	f := newBusFixture(t, cycle.Config{ClosePercents: []float64{0.5}})
	f.engine.StartCycle(context.Background(), "ETHUSDT", models.SideBuy, 3)

	snap := f.bus.CycleState("ETHUSDT")

	assert.Equal(t, "opened", snap.Stage)
	assert.Len(t, f.bus.CycleStates(), 1)
}
