package service

import (
	"sync/atomic"
	"time"

	"webhook_trader/internal/metrics"
)

// State флаги готовности бота, которые читают пробы.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	wsEver       atomic.Bool
	wsReconnects atomic.Int64
	lastTickUnix atomic.Int64 // unix seconds, последний markPrice
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// SetWSConnected повторное подключение после обрыва считается реконнектом.
func (s *State) SetWSConnected(v bool) {
	was := s.wsConnected.Swap(v)
	if v && !was && s.wsEver.Swap(true) {
		s.wsReconnects.Add(1)
	}
	if v {
		metrics.WebSocketConnected.Set(1)
	} else {
		metrics.WebSocketConnected.Set(0)
	}
}
func (s *State) WSConnected() bool { return s.wsConnected.Load() }
func (s *State) Reconnects() int64 { return s.wsReconnects.Load() }

func (s *State) TouchTick(t time.Time) {
	if t.IsZero() {
		t = time.Now()
	}
	s.lastTickUnix.Store(t.Unix())
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
