package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"webhook_trader/internal/exchange"
	"webhook_trader/internal/models"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/tradectx"
)

// TickToucher отметка «рынок жив» для readiness.
type TickToucher interface {
	TouchTick(t time.Time)
}

// Watcher сверяет глобальный кэш с WS-событиями и запускает ROE по markPrice и по таймеру.
type Watcher struct {
	global *tradectx.GlobalContext
	engine *cycle.Engine
	bus    *Bus
	source exchange.EventSource
	health TickToucher
	poll   time.Duration
	log    *zap.Logger

	mu         sync.Mutex
	subscribed map[string]bool
	// refresh перечитать позиции вне read-loop стрима
	refresh chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

var _ exchange.EventHandler = (*Watcher)(nil)

func NewWatcher(
	global *tradectx.GlobalContext,
	engine *cycle.Engine,
	bus *Bus,
	source exchange.EventSource,
	health TickToucher,
	poll time.Duration,
	log *zap.Logger,
) *Watcher {
	return &Watcher{
		global:     global,
		engine:     engine,
		bus:        bus,
		source:     source,
		health:     health,
		poll:       poll,
		log:        log,
		subscribed: make(map[string]bool),
		refresh:    make(chan struct{}, 1),
	}
}

// Start подписывается на markPrice уже открытых позиций и запускает поллер ROE.
func (w *Watcher) Start(ctx context.Context) error {
	opened, err := w.global.OpenedPositions(ctx, true)
	if err != nil {
		return err
	}
	for _, p := range opened {
		w.subscribe(p.Symbol)
	}
	if _, err := w.global.Orders(ctx, true); err != nil {
		w.log.Warn("initial orders fetch failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.pollLoop(runCtx)
	return nil
}

func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)
	var tick <-chan time.Time
	if w.poll > 0 {
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.PollRoe(ctx)
		case <-w.refresh:
			if _, err := w.global.OpenedPositions(ctx, true); err != nil {
				w.log.Warn("account update: positions refresh failed", zap.Error(err))
			}
		}
	}
}

// PollRoe перечитывает открытые позиции и прогоняет каждую через ROE.
func (w *Watcher) PollRoe(ctx context.Context) {
	opened, err := w.global.OpenedPositions(ctx, true)
	if err != nil {
		w.log.Warn("roe poll: positions unavailable", zap.Error(err))
		return
	}
	for _, p := range opened {
		w.evaluateRoe(p)
	}
}

// OnOrderUpdate upsert/удаление в кэше; исполнение ожидающего лимита на вход
// продолжает открытие через createLimitOrders.
func (w *Watcher) OnOrderUpdate(u models.OrderUpdate) {
	w.global.ApplyOrderUpdate(u)

	if u.Status != models.OrderStatusFilled {
		return
	}
	pl, ok := w.engine.TakePendingLimit(context.Background(), u.Symbol, u.OrderID)
	if !ok {
		return
	}
	qty := u.FilledQty
	if qty == 0 {
		qty = pl.Amount
	}
	w.log.Info("limit entry filled", zap.String("symbol", u.Symbol), zap.Int64("orderId", u.OrderID), zap.Float64("qty", qty))
	w.bus.Emit(models.Signal{
		Name:       models.SignalCreateLimitOrders,
		Symbol:     u.Symbol,
		Side:       u.Side,
		Amount:     qty,
		EntryPrice: pl.EntryPrice,
	})
}

// OnAccountUpdate позиция поменялась: прошлый ROE-стоп к ней больше не относится.
func (w *Watcher) OnAccountUpdate(u models.AccountUpdate) {
	ctx := context.Background()
	for _, p := range u.Positions {
		w.engine.ClearStopLoss(ctx, p.Symbol)
		if p.Amount != 0 {
			w.subscribe(p.Symbol)
		}
	}
	// перечитывает pollLoop; запросы схлопываются в один
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

func (w *Watcher) OnMarkPrice(u models.MarkPriceUpdate) {
	if w.health != nil {
		w.health.TouchTick(u.Time)
	}
	for _, p := range w.global.UpdateMarkPrice(u.Symbol, u.MarkPrice) {
		w.evaluateRoe(p)
	}
}

// evaluateRoe те же ворота, что и в хэндлере, плюс окно подавления по символу.
func (w *Watcher) evaluateRoe(p models.Position) {
	if !w.bus.Handles(models.SignalRoe) || !p.IsOpened() {
		return
	}
	_, idx, ok := w.engine.MatchRoeTier(p.ROE())
	if !ok {
		return
	}
	if !w.engine.ShouldApplyRoeTier(p.Symbol, idx, w.global.HasStopLoss) {
		return
	}
	if !w.engine.TryCooldown(p.Symbol) {
		return
	}
	pos := p
	w.bus.Emit(models.Signal{Name: models.SignalRoe, Symbol: p.Symbol, Side: p.Side, Position: &pos})
}

func (w *Watcher) subscribe(symbol string) {
	w.mu.Lock()
	if w.subscribed[symbol] {
		w.mu.Unlock()
		return
	}
	w.subscribed[symbol] = true
	w.mu.Unlock()

	if err := w.source.SubscribeMarkPrice(symbol); err != nil {
		w.log.Warn("mark price subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		w.mu.Lock()
		delete(w.subscribed, symbol)
		w.mu.Unlock()
	}
}
