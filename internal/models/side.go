package models

import "strings"

// Side сторона ордера.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PosSide позиция, которую открывает ордер этой стороны в hedge-режиме.
func (s Side) PosSide() PosSide {
	if s == SideBuy {
		return PosSideLong
	}
	return PosSideShort
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// ParseSide понимает и LONG/SHORT из вебхука, и BUY/SELL.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LONG", "BUY":
		return SideBuy, true
	case "SHORT", "SELL":
		return SideSell, true
	}
	return "", false
}

type PosSide string

const (
	PosSideLong  PosSide = "LONG"
	PosSideShort PosSide = "SHORT"
	PosSideBoth  PosSide = "BOTH"
)

// Side открывающая сторона позиции.
func (p PosSide) Side() Side {
	if p == PosSideLong {
		return SideBuy
	}
	return SideSell
}

func (p PosSide) Direction() float64 {
	if p == PosSideLong {
		return 1
	}
	return -1
}

type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

const TimeInForceGTC = "GTC"
