// Package cycle хранит состояние циклов по символам и решает, что делать с сигналом.
//
// Цикл: одно открытие и до len(ClosePercents) частичных TP.
// Idle -> Opened -> PartialN -> Complete.
package cycle

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
)

const markerTP = "TP"

type Config struct {
	ClosePercents        []float64
	AllowExtra           bool
	SetExtraEvery        int
	ExtraIntervalPercent float64
	RoeTiers             []models.RoeTier
	Cooldown             time.Duration
}

func (c Config) FullCycleSize() int { return len(c.ClosePercents) + 1 }

type Stage int

const (
	StageIdle Stage = iota
	StageOpened
	StagePartial
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageOpened:
		return "opened"
	case StagePartial:
		return "partial"
	case StageComplete:
		return "complete"
	default:
		return "idle"
	}
}

// Store персистентность состояния. Ошибки сохранения только логируются:
// биржа остаётся источником правды, а следующий сигнал всё равно сверится с ней.
type Store interface {
	Load(ctx context.Context) (map[string]models.SymbolState, error)
	Save(ctx context.Context, symbol string, st models.SymbolState) error
}

type NopStore struct{}

func (NopStore) Load(context.Context) (map[string]models.SymbolState, error) { return nil, nil }
func (NopStore) Save(context.Context, string, models.SymbolState) error     { return nil }

type Engine struct {
	cfg   Config
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	states   map[string]*models.SymbolState
	cooldown map[string]time.Time
}

func NewEngine(cfg Config, store Store, log *zap.Logger) *Engine {
	if store == nil {
		store = NopStore{}
	}
	cfg.RoeTiers = models.SortRoeTiers(cfg.RoeTiers)
	return &Engine{
		cfg:      cfg,
		store:    store,
		log:      log,
		now:      time.Now,
		states:   make(map[string]*models.SymbolState),
		cooldown: make(map[string]time.Time),
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Restore поднимает сохранённые циклы. Обрезает циклы длиннее текущего fullCycleSize
// (конфиг мог поменяться между запусками).
func (e *Engine) Restore(ctx context.Context) error {
	loaded, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	full := e.cfg.FullCycleSize()

	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, st := range loaded {
		st := st.Clone()
		if len(st.Cycle) > full {
			st.Cycle = st.Cycle[:full]
		}
		e.states[symbol] = &st
		metrics.CycleStage.WithLabelValues(symbol).Set(float64(len(st.Cycle)))
	}
	e.log.Info("cycle state restored", zap.Int("symbols", len(loaded)))
	return nil
}

func (e *Engine) State(symbol string) models.SymbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[symbol]; ok {
		return st.Clone()
	}
	return models.SymbolState{}
}

func (e *Engine) Stage(symbol string) Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stageLocked(symbol)
}

func (e *Engine) stageLocked(symbol string) Stage {
	st, ok := e.states[symbol]
	if !ok || len(st.Cycle) == 0 {
		return StageIdle
	}
	n := len(st.Cycle)
	switch {
	case n >= e.cfg.FullCycleSize():
		return StageComplete
	case n == 1:
		return StageOpened
	default:
		return StagePartial
	}
}

func (e *Engine) IsFirstEvent(symbol string) bool { return e.Stage(symbol) == StageIdle }

func (e *Engine) IsCompleteCycle(symbol string) bool { return e.Stage(symbol) == StageComplete }

func (e *Engine) Snapshot(symbol string) models.CycleSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(symbol)
}

// Snapshots по всем известным символам, отсортированы по имени.
func (e *Engine) Snapshots() []models.CycleSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.CycleSnapshot, 0, len(e.states))
	for symbol := range e.states {
		out = append(out, e.snapshotLocked(symbol))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *Engine) snapshotLocked(symbol string) models.CycleSnapshot {
	snap := models.CycleSnapshot{Symbol: symbol, Stage: e.stageLocked(symbol).String(), SlTier: -1}
	st, ok := e.states[symbol]
	if !ok {
		return snap
	}
	snap.Cycle = append([]string{}, st.Cycle...)
	snap.Baseline = st.Baseline
	if st.SlHistory != nil {
		snap.SlTier = st.SlHistory.TierIndex
		snap.SlOrderID = st.SlHistory.OrderID
	}
	return snap
}

// StartCycle cycle = [side], baseline = |quantity|. Прошлый ROE-стоп к новой позиции не относится.
func (e *Engine) StartCycle(ctx context.Context, symbol string, side models.Side, quantity float64) {
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		st.Cycle = []string{string(side)}
		st.Baseline = math.Abs(quantity)
		st.SlHistory = nil
		return nil
	})
}

// AppendTP фиксирует принятый частичный TP.
func (e *Engine) AppendTP(ctx context.Context, symbol string) error {
	full := e.cfg.FullCycleSize()
	return e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		if len(st.Cycle) == 0 {
			return errs.Unexpected(errs.CodeNoCycle, symbol, "")
		}
		if len(st.Cycle) >= full {
			return errs.Unexpected(errs.CodeTPCompleteCycle, symbol, "")
		}
		st.Cycle = append(st.Cycle, markerTP)
		return nil
	})
}

// PartCloseQuantity объём очередного TP. Последний ожидаемый TP закрывает позицию целиком,
// остальные закрывают долю от объёма на открытии.
func (e *Engine) PartCloseQuantity(symbol string, side models.Side, amount float64) (float64, float64, error) {
	st := e.State(symbol)
	if st.Baseline == 0 {
		return 0, 0, errs.Unexpected(errs.CodeNoStartQuantity, symbol, string(side))
	}
	if len(st.Cycle) == 0 {
		return 0, 0, errs.Unexpected(errs.CodeNoCycle, symbol, string(side))
	}

	idx := len(st.Cycle) - 1
	var percent float64
	if idx < len(e.cfg.ClosePercents) {
		percent = e.cfg.ClosePercents[idx]
	}
	if len(st.Cycle)+1 == e.cfg.FullCycleSize() {
		return math.Abs(amount), percent, nil
	}
	if percent == 0 {
		return 0, 0, errs.Unexpected(errs.CodeTPNoPercent, symbol, string(side))
	}
	return math.Abs(st.Baseline * percent), percent, nil
}

func (e *Engine) MatchRoeTier(roe float64) (models.RoeTier, int, bool) {
	return models.MatchRoeTier(e.cfg.RoeTiers, roe)
}

func (e *Engine) HasRoeTiers() bool { return len(e.cfg.RoeTiers) > 0 }

// ShouldApplyRoeTier true, если записи нет, записанный стоп уже не живой
// или новый уровень строго плотнее записанного.
func (e *Engine) ShouldApplyRoeTier(symbol string, idx int, live func(orderID int64) bool) bool {
	st := e.State(symbol)
	if st.SlHistory == nil {
		return true
	}
	if live != nil && !live(st.SlHistory.OrderID) {
		return true
	}
	return idx < st.SlHistory.TierIndex
}

func (e *Engine) RecordStopLoss(ctx context.Context, symbol string, orderID int64, idx int) {
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		st.SlHistory = &models.SlRecord{OrderID: orderID, TierIndex: idx}
		return nil
	})
}

func (e *Engine) ClearStopLoss(ctx context.Context, symbol string) {
	e.mu.Lock()
	st, ok := e.states[symbol]
	has := ok && st.SlHistory != nil
	e.mu.Unlock()
	if !has {
		return
	}
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		st.SlHistory = nil
		return nil
	})
}

// TryCooldown атомарно проверяет и взводит окно подавления ROE по символу.
func (e *Engine) TryCooldown(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if until, ok := e.cooldown[symbol]; ok && now.Before(until) {
		return false
	}
	e.cooldown[symbol] = now.Add(e.cfg.Cooldown)
	return true
}

type ExtraDecision int

const (
	// ExtraNone обычное открытие.
	ExtraNone ExtraDecision = iota
	// ExtraSkip сигнал пропускается до SET_EXTRA_EVERY.
	ExtraSkip
	// ExtraScale добор позиции долей EXTRA_INTERVAL_PERCENT от текущего объёма.
	ExtraScale
)

// GateExtra счётчик добавок: пока он не дошёл до SetExtraEvery, добавка
// пропускается (или масштабируется, если задан интервальный процент); иначе сбрасывается.
func (e *Engine) GateExtra(ctx context.Context, symbol string, isExtra, hasOpened bool) ExtraDecision {
	decision := ExtraNone
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		if isExtra && hasOpened && st.ExtraCount != e.cfg.SetExtraEvery {
			st.ExtraCount++
			decision = ExtraSkip
			if e.cfg.ExtraIntervalPercent > 0 {
				decision = ExtraScale
			}
			return nil
		}
		st.ExtraCount = 0
		return nil
	})
	return decision
}

func (e *Engine) SetPendingLimit(ctx context.Context, symbol string, pl models.PendingLimit) {
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		st.PendingLimit = &pl
		return nil
	})
}

// TakePendingLimit забирает ожидающий лимит, если orderID совпал.
func (e *Engine) TakePendingLimit(ctx context.Context, symbol string, orderID int64) (models.PendingLimit, bool) {
	var (
		pl    models.PendingLimit
		found bool
	)
	e.mutate(ctx, symbol, func(st *models.SymbolState) error {
		if st.PendingLimit == nil || st.PendingLimit.OrderID != orderID {
			return errNoChange
		}
		pl = *st.PendingLimit
		found = true
		st.PendingLimit = nil
		return nil
	})
	return pl, found
}

var errNoChange = errors.New("no change")

// mutate меняет состояние под локом и сохраняет копию уже без лока.
func (e *Engine) mutate(ctx context.Context, symbol string, fn func(st *models.SymbolState) error) error {
	e.mu.Lock()
	st, ok := e.states[symbol]
	if !ok {
		st = &models.SymbolState{}
	}
	next := st.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		if err == errNoChange {
			return nil
		}
		return err
	}
	e.states[symbol] = &next
	snapshot := next.Clone()
	e.mu.Unlock()

	metrics.CycleStage.WithLabelValues(symbol).Set(float64(len(snapshot.Cycle)))
	if err := e.store.Save(ctx, symbol, snapshot); err != nil {
		e.log.Warn("save symbol state", zap.String("symbol", symbol), zap.Error(err))
	}
	return nil
}
