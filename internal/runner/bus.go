package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/internal/runner/handlers"
	"webhook_trader/internal/tradectx"
	"webhook_trader/pkg/retry"
	"webhook_trader/pkg/tracing"
)

// Shutdowner то, чем шина гасит процесс на фатальной ошибке (fx.Shutdowner).
type Shutdowner interface {
	Shutdown(opts ...fx.ShutdownOption) error
}

// Bus очередь сигналов на каждый символ и по воркеру на очередь.
// Сигналы одного символа обрабатываются строго по одному, разные символы параллельно.
type Bus struct {
	gw       exchange.Gateway
	global   *tradectx.GlobalContext
	engine   *cycle.Engine
	policy   retry.Policy
	tracer   opentracing.Tracer
	shutdown Shutdowner
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	routes   map[models.SignalName][]handlers.Func
	queues   map[string]*symbolQueue
	stopped  bool
	pending  sync.WaitGroup
	workers  sync.WaitGroup
	fatalErr error
}

type symbolQueue struct {
	mu    sync.Mutex
	items []models.Signal
	wake  chan struct{}
}

func (q *symbolQueue) push(sig models.Signal) {
	q.mu.Lock()
	q.items = append(q.items, sig)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *symbolQueue) pop() (models.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.Signal{}, false
	}
	sig := q.items[0]
	q.items = q.items[1:]
	return sig, true
}

func NewBus(
	gw exchange.Gateway,
	global *tradectx.GlobalContext,
	engine *cycle.Engine,
	policy retry.Policy,
	tracer opentracing.Tracer,
	shutdown Shutdowner,
	log *zap.Logger,
) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		gw:       gw,
		global:   global,
		engine:   engine,
		policy:   policy,
		tracer:   tracer,
		shutdown: shutdown,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		routes:   make(map[models.SignalName][]handlers.Func),
		queues:   make(map[string]*symbolQueue),
	}
}

func (b *Bus) Register(name models.SignalName, fn handlers.Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[name] = append(b.routes[name], fn)
}

func (b *Bus) Handles(name models.SignalName) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.routes[name]) > 0
}

// Emit не блокирует, поэтому handler может переотправить сигнал сам себе.
func (b *Bus) Emit(sig models.Signal) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.log.Warn("signal dropped: bus stopped", zap.String("symbol", sig.Symbol), zap.String("signal", string(sig.Name)))
		return
	}
	q, ok := b.queues[sig.Symbol]
	if !ok {
		q = &symbolQueue{wake: make(chan struct{}, 1)}
		b.queues[sig.Symbol] = q
		b.workers.Add(1)
		go b.work(sig.Symbol, q)
	}
	b.pending.Add(1)
	b.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(sig.Symbol).Inc()
	q.push(sig)
}

// Wait ждёт, пока все поставленные сигналы (и их переотправки) будут обработаны.
func (b *Bus) Wait() { b.pending.Wait() }

// Stop перестаёт принимать сигналы, дожидается очереди (или ctx) и гасит воркеров.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.cancel()
	b.workers.Wait()
	return err
}

func (b *Bus) work(symbol string, q *symbolQueue) {
	defer b.workers.Done()
	for {
		select {
		case <-b.ctx.Done():
			for {
				if _, ok := q.pop(); !ok {
					return
				}
				metrics.QueueDepth.WithLabelValues(symbol).Dec()
				b.pending.Done()
			}
		case <-q.wake:
			for {
				sig, ok := q.pop()
				if !ok {
					break
				}
				metrics.QueueDepth.WithLabelValues(symbol).Dec()
				b.dispatch(sig)
				b.pending.Done()
			}
		}
	}
}

// dispatch: span -> свежий EventContext -> Init -> хэндлеры по очереди.
func (b *Bus) dispatch(sig models.Signal) {
	start := time.Now()
	span, ctx := tracing.StartSpan(b.ctx, b.tracer, "signal."+string(sig.Name), opentracing.Tags{
		"symbol":    sig.Symbol,
		"side":      string(sig.Side),
		"iteration": sig.Iteration,
	})
	defer span.Finish()

	b.mu.Lock()
	routes := append([]handlers.Func(nil), b.routes[sig.Name]...)
	b.mu.Unlock()
	if len(routes) == 0 {
		b.log.Debug("no handlers for signal", zap.String("signal", string(sig.Name)))
		return
	}

	ec := tradectx.NewEventContext(sig, b.gw, b.global, b.policy, b.log)
	if err := ec.Init(ctx); err != nil {
		// хэндлеры сами решат, что им критично
		ec.Log().Warn("context hydration failed", zap.Error(err))
	}

	result := "ok"
	for _, fn := range routes {
		if r := b.handleResult(ec, callHandler(ctx, ec, fn)); r != "ok" {
			result = r
			span.SetTag("result", r)
		}
	}
	metrics.SignalsTotal.WithLabelValues(string(sig.Name), result).Inc()
	metrics.SignalDuration.WithLabelValues(string(sig.Name)).Observe(time.Since(start).Seconds())
}

// callHandler паника хэндлера становится фатальной ошибкой, а не падением воркера.
func callHandler(ctx context.Context, ec *tradectx.EventContext, fn handlers.Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Fatal(errors.Errorf("panic in %s handler: %v", ec.Signal.Name, r))
		}
	}()
	return fn(ctx, ec)
}

func (b *Bus) handleResult(ec *tradectx.EventContext, err error) string {
	if err == nil {
		return "ok"
	}
	if errs.IsOperational(err) {
		ec.Log().Warn("signal skipped", zap.String("code", string(errs.CodeOf(err))), zap.Error(err))
		return "skipped"
	}

	ec.Log().Error("fatal error in handler, shutting down", zap.Error(err))
	b.mu.Lock()
	first := b.fatalErr == nil
	if first {
		b.fatalErr = err
	}
	b.mu.Unlock()
	if first && b.shutdown != nil {
		if serr := b.shutdown.Shutdown(fx.ExitCode(1)); serr != nil {
			b.log.Error("shutdown failed", zap.Error(serr))
		}
	}
	return "fatal"
}

// FatalErr первая фатальная ошибка, если была.
func (b *Bus) FatalErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fatalErr
}

// CycleState снимок цикла символа.
func (b *Bus) CycleState(symbol string) models.CycleSnapshot { return b.engine.Snapshot(symbol) }

func (b *Bus) CycleStates() []models.CycleSnapshot { return b.engine.Snapshots() }

// Symbols символы, по которым уже есть очередь.
func (b *Bus) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.queues))
	for s := range b.queues {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
