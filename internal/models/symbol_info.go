package models

// SymbolInfo метаданные инструмента из exchangeInfo.
type SymbolInfo struct {
	Symbol            string
	PricePrecision    int
	QuantityPrecision int
	TickSize          float64
}

// Assets в порядке проверки суффикса символа.
var Assets = []string{"BTC", "BNB", "ETH", "USDT", "USDC", "BUSD"}

const DefaultLeverage = 10
