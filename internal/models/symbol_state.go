package models

// SlRecord последний SL, поставленный по ROE.
type SlRecord struct {
	OrderID   int64 `json:"orderId"`
	TierIndex int   `json:"tierIndex"`
}

// PendingLimit лимитный ордер на открытие, ждущий исполнения.
type PendingLimit struct {
	OrderID    int64   `json:"orderId"`
	Side       Side    `json:"side"`
	Amount     float64 `json:"amount"`
	EntryPrice float64 `json:"entryPrice"`
}

// SymbolState вся бухгалтерия цикла по одному символу.
type SymbolState struct {
	Cycle        []string      `json:"cycle"`
	Baseline     float64       `json:"baseline"`
	SlHistory    *SlRecord     `json:"slHistory,omitempty"`
	ExtraCount   int           `json:"extraCount"`
	PendingLimit *PendingLimit `json:"pendingLimit,omitempty"`
}

func (s SymbolState) Clone() SymbolState {
	c := s
	c.Cycle = append([]string(nil), s.Cycle...)
	if s.SlHistory != nil {
		sl := *s.SlHistory
		c.SlHistory = &sl
	}
	if s.PendingLimit != nil {
		pl := *s.PendingLimit
		c.PendingLimit = &pl
	}
	return c
}

// CycleSnapshot то, что отдаётся наружу (healthz).
type CycleSnapshot struct {
	Symbol    string   `json:"symbol"`
	Stage     string   `json:"stage"`
	Cycle     []string `json:"cycle"`
	Baseline  float64  `json:"baseline"`
	SlTier    int      `json:"slTier"`
	SlOrderID int64    `json:"slOrderId,omitempty"`
}
