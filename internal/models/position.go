package models

import "math"

// Position снимок позиции с биржи. Локально меняется только markPrice из пушей.
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	PosSide          PosSide `json:"posSide"`
	Amount           float64 `json:"amount"`
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	Leverage         int     `json:"leverage"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	UnrealizedPnL    float64 `json:"unrealizedPnl"`
}

func (p Position) IsOpened() bool { return math.Abs(p.Amount) > 0 }

// ROE по текущему markPrice.
func (p Position) ROE() float64 { return p.RoeAt(p.MarkPrice) }

func (p Position) RoeAt(price float64) float64 {
	if price == 0 {
		return 0
	}
	return p.PosSide.Direction() * float64(p.Leverage) * (price - p.EntryPrice) / price
}

type PriceRef int

const (
	PriceRefEntry PriceRef = iota
	PriceRefMark
)

func (r PriceRef) String() string {
	if r == PriceRefMark {
		return "mark"
	}
	return "entry"
}

// StopPrice цена срабатывания SL/TP от выбранной опорной цены.
func (p Position) StopPrice(percent float64, isStopLoss bool, ref PriceRef) float64 {
	price := p.EntryPrice
	if ref == PriceRefMark {
		price = p.MarkPrice
	}
	return TargetPrice(math.Abs(price), percent, p.Side, isStopLoss)
}

// TargetPrice = price + price*percent*direction,
// direction = (BUY ? 1 : -1) * (SL ? -1 : 1).
func TargetPrice(price, percent float64, side Side, isStopLoss bool) float64 {
	direction := 1.0
	if side != SideBuy {
		direction = -1
	}
	if isStopLoss {
		direction *= -1
	}
	return price + price*percent*direction
}
